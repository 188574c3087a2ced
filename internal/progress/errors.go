package progress

import "errors"

var (
	// ErrStorageRead is never surfaced by Service.Load; it is logged and
	// the store falls back to empty.
	ErrStorageRead = errors.New("progress storage read failed")
	// ErrStorageWrite means persistence failed but the in-memory state was kept.
	ErrStorageWrite  = errors.New("progress storage write failed")
	ErrInvalidImport = errors.New("invalid progress import")

	ErrNegativeValues = errors.New("audio minutes and completion percentage must not be negative")
)
