package blob

import (
	"errors"
	"fmt"
)

// Backend identifiers reported on retrieval failures.
const (
	BackendObjectStorage = "object_storage"
	BackendLocal         = "local"
	BackendHTTP          = "http"
)

var (
	// ErrRetrievalFailed matches every backend failure surfaced by the retriever.
	ErrRetrievalFailed = errors.New("retrieval failed")
	// ErrUnsupportedReference indicates no backend can serve the reference.
	ErrUnsupportedReference = errors.New("unsupported reference kind")
	// ErrTooLarge indicates the artifact exceeded the configured size limit.
	ErrTooLarge = errors.New("artifact exceeds maximum size")
)

// RetrievalError carries the backend that was attempted and the underlying cause.
type RetrievalError struct {
	Backend    string
	Target     string
	StatusCode int
	Err        error
}

func (e *RetrievalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("retrieval failed (%s, status %d): %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("retrieval failed (%s): %v", e.Backend, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrRetrievalFailed) match any RetrievalError.
func (e *RetrievalError) Is(target error) bool {
	return target == ErrRetrievalFailed
}
