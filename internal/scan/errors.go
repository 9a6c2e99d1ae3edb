package scan

import "errors"

var (
	// ErrValidation marks malformed caller input
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown scan id or stored file
	ErrNotFound = errors.New("not found")

	// ErrScanNotReady marks a stage whose state preconditions are unmet
	ErrScanNotReady = errors.New("scan not ready")

	// ErrInvalidTransition marks an illegal status change. Stages check
	// preconditions first, so seeing one is a defect.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidFileType marks an upload that is not a JPEG, PNG or WebP image
	ErrInvalidFileType = errors.New("invalid file type")

	// ErrInternal marks everything else
	ErrInternal = errors.New("internal error")
)
