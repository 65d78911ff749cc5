package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"testing"
)

func fakeResponse(req *Request, contentType string, body []byte) *Response {
	raw := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
	if contentType != "" {
		raw.Header.Set("Content-Type", contentType)
	}
	return &Response{Raw: raw, req: req}
}

func decodeBody(t *testing.T, contentType string, body []byte, opts *CallOptions) (any, error) {
	t.Helper()
	p := NewContentDecodePolicy()
	req := newTestRequest(t, http.MethodGet, "https://example.com", opts)
	if err := p.OnRequest(req); err != nil {
		t.Fatalf("OnRequest: %v", err)
	}
	resp := fakeResponse(req, contentType, body)
	if err := p.OnResponse(req, resp); err != nil {
		return nil, err
	}
	return resp.Decoded(), nil
}

func TestContentDecodeJSONRoundTrip(t *testing.T) {
	original := map[string]any{"a": float64(1), "nested": map[string]any{"b": "x"}}
	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := decodeBody(t, "application/json", encoded, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, original) {
		t.Errorf("round trip mismatch: got %#v, want %#v", decoded, original)
	}
}

func TestContentDecodeIdempotent(t *testing.T) {
	body := []byte(`{"a": 1, "b": [1, 2, 3]}`)
	first, err := Deserialize(body, "application/json")
	if err != nil {
		t.Fatalf("first decode: %v", err)
	}
	second, err := Deserialize(body, "application/json")
	if err != nil {
		t.Fatalf("second decode: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("decoding the same bytes twice produced different results")
	}
}

func TestContentDecodeUTF8BOM(t *testing.T) {
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"a": 1}`)...)
	decoded, err := decodeBody(t, "application/json", body, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]any{"a": float64(1)}
	if !reflect.DeepEqual(decoded, want) {
		t.Errorf("got %#v, want %#v", decoded, want)
	}
}

func TestContentDecodeMissingContentTypeAttemptsJSON(t *testing.T) {
	decoded, err := decodeBody(t, "", []byte(`{"a": 1}`), nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, map[string]any{"a": float64(1)}) {
		t.Errorf("got %#v, want the JSON value", decoded)
	}
}

func TestContentDecodeEmptyBody(t *testing.T) {
	decoded, err := decodeBody(t, "application/json", nil, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != nil {
		t.Errorf("got %#v, want nil for an empty body", decoded)
	}
}

func TestContentDecodeXML(t *testing.T) {
	decoded, err := decodeBody(t, "application/xml", []byte(`<root attr="v"><child>text</child></root>`), nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	node, ok := decoded.(*XMLNode)
	if !ok {
		t.Fatalf("got %T, want *XMLNode", decoded)
	}
	if node.XMLName.Local != "root" {
		t.Errorf("root element = %q, want root", node.XMLName.Local)
	}
	if len(node.Nodes) != 1 || node.Nodes[0].XMLName.Local != "child" {
		t.Fatalf("child nodes = %#v, want one <child>", node.Nodes)
	}
	if node.Nodes[0].Content != "text" {
		t.Errorf("child content = %q, want text", node.Nodes[0].Content)
	}
}

func TestContentDecodeMislabeledJSONFallsBack(t *testing.T) {
	// A server bug: JSON payload declared as XML.
	decoded, err := decodeBody(t, "application/xml", []byte(`{"a": 1}`), nil)
	if err != nil {
		t.Fatalf("decode should recover via the JSON fallback, got %v", err)
	}
	if !reflect.DeepEqual(decoded, map[string]any{"a": float64(1)}) {
		t.Errorf("got %#v, want the JSON value", decoded)
	}
}

func TestContentDecodeText(t *testing.T) {
	decoded, err := decodeBody(t, "text/plain", []byte("hello"), nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != "hello" {
		t.Errorf("got %#v, want the plain string", decoded)
	}
}

func TestContentDecodeUnsupportedContentType(t *testing.T) {
	_, err := decodeBody(t, "application/octet-stream", []byte{0x01, 0x02}, nil)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want a DecodeError", err)
	}
	if de.ContentType != "application/octet-stream" {
		t.Errorf("DecodeError names %q, want the offending content type", de.ContentType)
	}
	if de.Response == nil {
		t.Error("DecodeError should carry the response for diagnostics")
	}
}

func TestContentDecodeSkipsStreaming(t *testing.T) {
	decoded, err := decodeBody(t, "application/json", []byte(`{"a": 1}`), &CallOptions{Stream: true})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != nil {
		t.Errorf("streaming call should not be decoded, got %#v", decoded)
	}
}

func TestContentDecodeMalformedJSONIsDecodeError(t *testing.T) {
	_, err := decodeBody(t, "application/json", []byte(`{not json`), nil)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want a DecodeError", err)
	}
}

func TestContentDecodeJSONSuffixMediaType(t *testing.T) {
	decoded, err := decodeBody(t, "application/merge-patch+json", []byte(`{"a": 1}`), nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, map[string]any{"a": float64(1)}) {
		t.Errorf("got %#v, want the JSON value", decoded)
	}
}

func TestContentDecodeResponseEncodingOverride(t *testing.T) {
	body := []byte("caf\xe9")
	decoded, err := decodeBody(t, "text/plain", body, &CallOptions{ResponseEncoding: "iso-8859-1"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != "café" {
		t.Errorf("got %q, want %q", decoded, "café")
	}
}

func TestContentDecodeCharsetFromContentType(t *testing.T) {
	body := []byte("caf\xe9")
	decoded, err := decodeBody(t, "text/plain; charset=iso-8859-1", body, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != "café" {
		t.Errorf("got %q, want %q", decoded, "café")
	}
}

func TestContentDecodeOverrideWinsOverCharset(t *testing.T) {
	// The declared charset is wrong; the per-call override corrects it.
	body := []byte("caf\xe9")
	decoded, err := decodeBody(t, "text/plain; charset=utf-8", body, &CallOptions{ResponseEncoding: "iso-8859-1"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != "café" {
		t.Errorf("got %q, want %q", decoded, "café")
	}
}

func TestContentDecodeUnknownEncodingIsDecodeError(t *testing.T) {
	_, err := decodeBody(t, "text/plain", []byte("x"), &CallOptions{ResponseEncoding: "klingon-8"})
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want a DecodeError", err)
	}
}
