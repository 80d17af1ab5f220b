package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidSheetURL   = errors.New("invalid google sheet url")
	ErrSheetUnreachable  = errors.New("sheet unreachable")
	ErrAborted           = errors.New("aborted")
	ErrEnrichmentFailed  = errors.New("enrichment failed")
	ErrUnknownModel      = errors.New("unknown model")
	ErrRunLocked         = errors.New("another upload is already running for this pharmacy")
	ErrUnsupportedUpload = errors.New("unsupported upload format")

	// cancellation causes for a run context
	ErrCancelledByUser = errors.New("cancelled by user")
	ErrShuttingDown    = errors.New("server shutting down")
	ErrRunLockLost     = errors.New("run lock lost")
)
