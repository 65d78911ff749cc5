package pipeline

import (
	"bytes"
	"io"
	"net/http"
)

// Response is the mutable envelope paired with a Request. It shares the
// request's scratch values by reference.
type Response struct {
	Raw *http.Response

	req     *Request
	decoded any

	body     []byte
	bodyRead bool
}

// Value reads the scratch state written during the outbound pass of the
// same call.
func (r *Response) Value(key string) (any, bool) {
	return r.req.Value(key)
}

// Body reads and caches the full response body, replacing Raw.Body with
// a replayable reader. Policies that inspect the body use this so the
// payload stays available to the caller and to later hooks.
func (r *Response) Body() ([]byte, error) {
	if r.bodyRead {
		return r.body, nil
	}
	if r.Raw.Body == nil {
		r.bodyRead = true
		return nil, nil
	}
	data, err := io.ReadAll(r.Raw.Body)
	r.Raw.Body.Close()
	if err != nil {
		return nil, err
	}
	r.body = data
	r.bodyRead = true
	r.Raw.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// Decoded returns the structured value produced by the content decode
// policy, or nil if the call streamed or the body was empty.
func (r *Response) Decoded() any {
	return r.decoded
}

func (r *Response) setDecoded(v any) {
	r.decoded = v
}
