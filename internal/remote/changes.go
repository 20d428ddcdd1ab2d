package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// ChangeFeed subscribes to the server's change notifications over a
// websocket. Events arrive after the server has committed the record
// mutation, so a fetch triggered by an event always observes the new state.
type ChangeFeed struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
}

// NewChangeFeed creates a change feed subscriber for the given server.
func NewChangeFeed(baseURL, token string) *ChangeFeed {
	return &ChangeFeed{
		baseURL: baseURL,
		token:   token,
		dialer:  websocket.DefaultDialer,
	}
}

func (f *ChangeFeed) wsURL() string {
	url := f.baseURL
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/api/v1/changes"
}

// Subscribe opens the feed and returns a channel of change events. The
// channel is closed when the connection drops or the context is cancelled;
// callers reconnect by subscribing again.
func (f *ChangeFeed) Subscribe(ctx context.Context) (<-chan ChangeEvent, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.token)

	conn, resp, err := f.dialer.DialContext(ctx, f.wsURL(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("subscribe to change feed: %w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("subscribe to change feed: %w", err)
	}

	events := make(chan ChangeEvent, 16)

	// Close the connection when the context ends so ReadJSON unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var ev ChangeEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
