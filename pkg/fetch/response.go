package fetch

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Response types
const (
	TypeBasic  = "basic"
	TypeCORS   = "cors"
	TypeOpaque = "opaque"
	TypeError  = "error"
)

// Response is a buffered response. The body slice is shared between
// clones and must not be modified in place.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	URL        string
	Redirected bool
	Type       string
}

// NewResponse builds a basic response with the given status and body.
func NewResponse(status int, body []byte) *Response {
	return &Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Header:     make(http.Header),
		Body:       body,
		Type:       TypeBasic,
	}
}

// ErrorResponse is the network-error response: status 0, type "error".
func ErrorResponse() *Response {
	return &Response{Header: make(http.Header), Type: TypeError}
}

// IsError reports whether the response represents a network error.
func (r *Response) IsError() bool {
	return r == nil || r.Type == TypeError
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Clone returns a copy sharing the body bytes.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	return &c
}

// Size is the number of body bytes.
func (r *Response) Size() int64 {
	if r == nil {
		return 0
	}
	return int64(len(r.Body))
}

// WriteTo writes the response to an http.ResponseWriter. Error responses
// are written as 502 Bad Gateway.
func (r *Response) WriteTo(w http.ResponseWriter) error {
	if r.IsError() {
		http.Error(w, "network error", http.StatusBadGateway)
		return nil
	}
	h := w.Header()
	for k, vs := range r.Header {
		h[k] = append([]string(nil), vs...)
	}
	h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if _, err := w.Write(r.Body); err != nil {
		return fmt.Errorf("write response body: %w", err)
	}
	return nil
}

// FromHTTPResponse buffers an *http.Response, reading at most limit body
// bytes when limit is positive, and closes its body.
func FromHTTPResponse(resp *http.Response, limit int64) (*Response, error) {
	defer resp.Body.Close()
	body, err := readAll(resp.Body, limit)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	out := &Response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     resp.Header.Clone(),
		Body:       body,
		Type:       TypeBasic,
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if resp.Request != nil && resp.Request.URL != nil {
		out.URL = resp.Request.URL.String()
	}
	return out, nil
}

func readAll(r io.Reader, limit int64) ([]byte, error) {
	if limit > 0 {
		b, err := io.ReadAll(io.LimitReader(r, limit+1))
		if err != nil {
			return nil, err
		}
		if int64(len(b)) > limit {
			return nil, fmt.Errorf("body exceeds %d bytes", limit)
		}
		return b, nil
	}
	return io.ReadAll(r)
}
