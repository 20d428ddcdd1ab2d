package conflict

import "errors"

// Sentinel errors for the conflict resolution lifecycle.
var (
	// ErrConflictNotFound reports a conflict ID that is not queued.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrAlreadyResolved reports an attempt to resolve a conflict that
	// already lives in history.
	ErrAlreadyResolved = errors.New("conflict already resolved")

	// ErrManualMergeRequired reports a merge resolution on a conflict the
	// engine could not merge cleanly. The caller must pick a side or
	// supply an edited field map. This is an expected outcome, not a
	// failure.
	ErrManualMergeRequired = errors.New("manual merge required")

	// ErrRemotePushFailed is returned by an Applier when the backend
	// rejected the resolved record. The conflict is re-queued for retry.
	ErrRemotePushFailed = errors.New("remote push failed")

	// ErrEntityVanished is returned by an Applier when the underlying
	// entity no longer exists anywhere. The conflict is discarded.
	ErrEntityVanished = errors.New("entity no longer exists")

	// ErrResolutionInProgress reports a second resolution attempt for a
	// conflict whose resolution is still being applied.
	ErrResolutionInProgress = errors.New("resolution already in progress")
)
