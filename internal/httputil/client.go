// Package httputil holds JSON response helpers for the status server and
// the HTTP client seam used by the detection adapter.
package httputil

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrNoResponse is returned by MockDoer when its script is exhausted.
var ErrNoResponse = errors.New("mock: no response queued")

// MockDoer replays queued responses in order and records every request.
type MockDoer struct {
	mu        sync.Mutex
	requests  []*http.Request
	bodies    [][]byte
	responses []mockResponse
}

type mockResponse struct {
	status int
	body   string
	header http.Header
	err    error
}

// NewMockDoer creates a mock with an empty script.
func NewMockDoer() *MockDoer { return &MockDoer{} }

// Respond queues a response with the given status and body.
func (m *MockDoer) Respond(status int, body string) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	m.responses = append(m.responses, mockResponse{status: status, body: body, header: h})
	return m
}

// Fail queues a transport error.
func (m *MockDoer) Fail(err error) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{err: err})
	return m
}

// Do records req, consuming its body, and returns the next queued response.
func (m *MockDoer) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	if len(m.responses) == 0 {
		return nil, ErrNoResponse
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(bytes.NewBufferString(r.body)),
		Header:     r.header,
		Request:    req,
	}, nil
}

// Requests returns the recorded requests.
func (m *MockDoer) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request(nil), m.requests...)
}

// Body returns the body of the nth recorded request.
func (m *MockDoer) Body(n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.bodies) {
		return nil
	}
	return m.bodies[n]
}
