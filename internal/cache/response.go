package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// ResponseType tells where a response came from, mirroring the fetch response types.
type ResponseType string

const (
	// TypeBasic is a same-origin response. Only these are ever stored.
	TypeBasic ResponseType = "basic"
	// TypeOpaque is a response that ended up on another origin.
	TypeOpaque ResponseType = "opaque"
	// TypeError is a synthetic network error response.
	TypeError ResponseType = "error"
)

// Response is an immutable, fully read HTTP response.
// The body has been consumed from the wire exactly once; use Clone to hand
// an independent copy to a second consumer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Type       ResponseType
	URL        string
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       body,
		Type:       r.Type,
		URL:        r.URL,
	}
}

// HTTP builds a fresh *http.Response reading from a copy of the body.
func (r *Response) HTTP(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Del("Content-Length")
	header.Del("Transfer-Encoding")
	header.Set("Content-Length", strconv.Itoa(len(r.Body)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode)),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// FromHTTP reads and closes resp.Body, returning the immutable value.
func FromHTTP(resp *http.Response, typ ResponseType) (*Response, error) {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var location string
	if resp.Request != nil && resp.Request.URL != nil {
		location = resp.Request.URL.String()
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Type:       typ,
		URL:        location,
	}, nil
}
