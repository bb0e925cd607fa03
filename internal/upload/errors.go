package upload

import "fmt"

const (
	ReasonNoFile   = "no file"
	ReasonBadType  = "bad type"
	ReasonTooLarge = "too large"
)

// ValidationError rejects an upload before anything is written to disk.
type ValidationError struct {
	Reason string
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "upload rejected: " + e.Reason
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Message is the client-facing text for the rejection.
func (e *ValidationError) Message() string {
	switch e.Reason {
	case ReasonNoFile:
		return "No image uploaded"
	case ReasonBadType:
		return "Only image files are allowed!"
	case ReasonTooLarge:
		return "File too large"
	default:
		return "Invalid upload"
	}
}

// StorageError is a filesystem failure while persisting an accepted upload.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s failed: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
