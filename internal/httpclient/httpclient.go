// Package httpclient is the outbound HTTP seam shared by the token cache and
// the queue client. Requests and responses are plain values so that tests can
// substitute a Doer without a network.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"time"
)

// Doer executes a single HTTP exchange.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Request represents an outgoing HTTP request.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// NewRequest creates a Request with an empty header set.
func NewRequest(method, url string, body []byte) *Request {
	return &Request{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
		Body:    body,
	}
}

// SetHeader sets a request header, allocating the header map if needed.
func (r *Request) SetHeader(name, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[textproto.CanonicalMIMEHeaderKey(name)] = value
}

// Header returns the named request header.
func (r *Request) Header(name string) string {
	return r.Headers[textproto.CanonicalMIMEHeaderKey(name)]
}

// Response represents an HTTP response. Header keys are stored in canonical
// MIME form.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Header looks up a response header by name, reporting whether it was present.
func (r *Response) Header(name string) (string, bool) {
	v, ok := r.Headers[textproto.CanonicalMIMEHeaderKey(name)]
	return v, ok
}

// Client wraps net/http.Client to implement Doer.
type Client struct {
	client *http.Client
}

// New creates a Client with the given timeout. A zero timeout leaves the
// transport defaults in place.
func New(timeout time.Duration) *Client {
	return &Client{
		client: &http.Client{Timeout: timeout},
	}
}

// Do converts a Request to a net/http request, executes it, and returns the
// fully read result as a Response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	// net/http ignores a Content-Length header; the length comes from the body.
	httpReq.ContentLength = int64(len(req.Body))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response body: %w", req.Method, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    flatten(resp.Header),
		Body:       body,
	}, nil
}

// flatten keeps the first value of each header. Keys are already canonical.
func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
