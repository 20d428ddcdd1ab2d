package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/songsync-app/songsync/internal/models"
)

// ErrNotFound is returned when the backend has no record for an entity.
var ErrNotFound = errors.New("record not found")

// VersionConflictError reports that a push was rejected because the server
// version changed. It carries the server's current record.
type VersionConflictError struct {
	Server *RecordSnapshot
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: server holds tag %s for %s/%s",
		e.Server.VersionTag, e.Server.EntityType, e.Server.EntityID)
}

// Backend is the contract for the remote synchronization backend. It stores
// records keyed by entity identity and rejects writes whose expected version
// tag does not match the server's current tag. The backend never merges.
type Backend interface {
	// FetchRecord returns the authoritative record, or ErrNotFound.
	FetchRecord(ctx context.Context, entityType models.EntityType, entityID string) (*RecordSnapshot, error)

	// ListRecords returns all records (including tombstones) of a type.
	ListRecords(ctx context.Context, entityType models.EntityType) ([]*RecordSnapshot, error)

	// PushRecord stores a record if the server's version tag matches
	// expectedTag (empty means "must not exist"). On a mismatch it
	// returns a *VersionConflictError carrying the server's record.
	PushRecord(ctx context.Context, rec *RecordSnapshot, expectedTag string) (string, error)

	// ForcePushRecord stores a record unconditionally, overwriting
	// whatever the server holds. Used to apply resolved conflicts.
	ForcePushRecord(ctx context.Context, rec *RecordSnapshot) (string, error)
}

// HTTPClient implements Backend over HTTP.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTP-based backend client.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{},
	}
}

func (c *HTTPClient) recordURL(entityType models.EntityType, entityID string) string {
	url := fmt.Sprintf("%s/api/v1/records/%s", c.baseURL, entityType)
	if entityID != "" {
		url += "/" + entityID
	}
	return url
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, reqBody, respBody any) (*http.Response, error) {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return resp, ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		var conflict PushConflictResponse
		if err := json.NewDecoder(resp.Body).Decode(&conflict); err != nil {
			return resp, fmt.Errorf("decode conflict response: %w", err)
		}
		return resp, &VersionConflictError{Server: conflict.Server}
	case resp.StatusCode >= 400:
		return resp, decodeError(resp)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

// FetchRecord returns the authoritative record for an entity.
func (c *HTTPClient) FetchRecord(ctx context.Context, entityType models.EntityType, entityID string) (*RecordSnapshot, error) {
	var rec RecordSnapshot
	if _, err := c.doJSON(ctx, "GET", c.recordURL(entityType, entityID), nil, &rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("fetch record %s/%s: %w", entityType, entityID, err)
	}
	return &rec, nil
}

// ListRecords returns all records of a type, including tombstones.
func (c *HTTPClient) ListRecords(ctx context.Context, entityType models.EntityType) ([]*RecordSnapshot, error) {
	var recs []*RecordSnapshot
	if _, err := c.doJSON(ctx, "GET", c.recordURL(entityType, ""), nil, &recs); err != nil {
		return nil, fmt.Errorf("list records %s: %w", entityType, err)
	}
	return recs, nil
}

// PushRecord performs a compare-and-swap write of a record.
func (c *HTTPClient) PushRecord(ctx context.Context, rec *RecordSnapshot, expectedTag string) (string, error) {
	return c.push(ctx, rec, expectedTag, false)
}

// ForcePushRecord overwrites whatever the server holds for the record.
func (c *HTTPClient) ForcePushRecord(ctx context.Context, rec *RecordSnapshot) (string, error) {
	return c.push(ctx, rec, "", true)
}

func (c *HTTPClient) push(ctx context.Context, rec *RecordSnapshot, expectedTag string, force bool) (string, error) {
	req := &PushRecordRequest{Record: rec, Expected: expectedTag, Force: force}
	var resp PushRecordResponse
	if _, err := c.doJSON(ctx, "PUT", c.recordURL(rec.EntityType, rec.EntityID), req, &resp); err != nil {
		var vc *VersionConflictError
		if errors.As(err, &vc) {
			return "", vc
		}
		return "", fmt.Errorf("push record %s/%s: %w", rec.EntityType, rec.EntityID, err)
	}
	return resp.VersionTag, nil
}

// RemoteError represents a structured error from the server.
type RemoteError struct {
	Code    string
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &RemoteError{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}
	return &RemoteError{
		Code:    errResp.Error,
		Message: errResp.Message,
		Status:  resp.StatusCode,
	}
}
