package apibuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
)

// Method is an HTTP method accepted by the scheduler.
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodPatch  Method = http.MethodPatch
	MethodDelete Method = http.MethodDelete
)

func (m Method) valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
		return true
	}
	return false
}

type bodyKind uint8

const (
	bodyNone bodyKind = iota
	bodyText
	bodyBinary
	bodyJSON
)

// Body is a request payload. The zero value means no body.
type Body struct {
	kind  bodyKind
	text  string
	data  []byte
	value any
}

// Text sends s as-is.
func Text(s string) Body { return Body{kind: bodyText, text: s} }

// Binary sends b as-is.
func Binary(b []byte) Body { return Body{kind: bodyBinary, data: b} }

// JSON sends v serialised with encoding/json.
func JSON(v any) Body { return Body{kind: bodyJSON, value: v} }

// IsZero reports whether the body is absent.
func (b Body) IsZero() bool { return b.kind == bodyNone }

// encode returns the wire bytes and the content type implied by the body
// kind ("" when the kind implies none).
func (b Body) encode() ([]byte, string, error) {
	switch b.kind {
	case bodyNone:
		return nil, "", nil
	case bodyText:
		return []byte(b.text), "", nil
	case bodyBinary:
		return b.data, "", nil
	case bodyJSON:
		data, err := json.Marshal(b.value)
		if err != nil {
			return nil, "", fmt.Errorf("marshal body: %w", err)
		}
		return data, "application/json", nil
	}
	panic("apibuilder: unknown body kind")
}

// Request describes one call to be queued.
type Request struct {
	// Method is set by the verb helpers; Do uses it directly.
	Method Method
	// Path is appended to the builder's host and path prefix.
	Path    string
	Body    Body
	Headers map[string]string
	Query   url.Values
	// Authenticated asks the bound identity to attach credentials.
	Authenticated bool
	// Forced requests skip the queue order and the concurrency limit.
	Forced bool
}

// Response is a completed transport call. Non-2xx statuses are still
// responses; only 401 on an identity-bound builder is turned into an error.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("apibuilder: decode response: %w", err)
	}
	return nil
}

// Call is the completion handle of a queued request. Exactly one of its
// outcomes is recorded, exactly once.
type Call struct {
	id   string
	done chan struct{}
	once sync.Once
	resp *Response
	err  error
}

func newCall(id string) *Call {
	return &Call{id: id, done: make(chan struct{})}
}

// ID identifies the call in logs.
func (c *Call) ID() string { return c.id }

// Done is closed once the call settles.
func (c *Call) Done() <-chan struct{} { return c.done }

// Wait blocks until the call settles or ctx ends. A ctx that ends first only
// abandons the wait; the request itself stays scheduled.
func (c *Call) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Call) resolve(resp *Response) { c.settle(resp, nil) }

func (c *Call) reject(err error) { c.settle(nil, err) }

func (c *Call) settle(resp *Response, err error) {
	c.once.Do(func() {
		c.resp, c.err = resp, err
		close(c.done)
	})
}

// entry is a queued request together with its owner and completion.
type entry struct {
	id    string
	req   *Request
	call  *Call
	owner *Builder
}
