package pipeline

import (
	"fmt"
	"net/http"
)

// DecodeError indicates the response body could not be parsed per its
// declared or inferred content type. It carries the response for
// diagnostics.
type DecodeError struct {
	Response    *http.Response
	ContentType string
	err         error
}

func (e *DecodeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("decode %q: %s", e.ContentType, e.err)
	}
	return fmt.Sprintf("decode: unsupported content type %q", e.ContentType)
}

func (e *DecodeError) Unwrap() error { return e.err }
