package engine

import "errors"

var (
	// ErrDecode means the source image could not be decoded. The session
	// stays NotReady and must be recreated with a new source.
	ErrDecode = errors.New("engine: source image could not be decoded")
	// ErrInvalidRegion is never returned to callers; region operations report
	// rejection with ok=false. It exists for logging.
	ErrInvalidRegion = errors.New("engine: invalid region")
	// ErrExport means the finalized image could not be produced. Session
	// state is preserved and the export may be retried.
	ErrExport = errors.New("engine: export failed")
	// ErrIntegration wraps failures reported by the document collaborator.
	ErrIntegration = errors.New("engine: document integration failed")
	// ErrNotReady is returned by operations invoked before a source image
	// has been decoded or after the session was cancelled.
	ErrNotReady = errors.New("engine: session not ready")
)
