// Package testutil provides fakes for code that depends on the llm package.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/appforge/llm"
)

// MockLLMClient is a thread-safe llm.Completer that replays canned replies.
//
//	mock := &testutil.MockLLMClient{
//	    Responses: []*llm.Response{{Content: `{"name": "calc"}`}},
//	}
//
// Errs, when set, is consulted per call: a non-nil entry at the call's index
// is returned instead of a response. Err fails every call.
type MockLLMClient struct {
	mu        sync.Mutex
	Responses []*llm.Response
	Errs      []error
	Err       error

	requests []llm.Request
}

// Complete implements llm.Completer.
func (m *MockLLMClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.requests)
	m.requests = append(m.requests, req)

	if m.Err != nil {
		return nil, m.Err
	}
	if idx < len(m.Errs) && m.Errs[idx] != nil {
		return nil, m.Errs[idx]
	}
	if idx < len(m.Responses) {
		return m.Responses[idx], nil
	}
	return &llm.Response{Content: "", Model: "test-model"}, nil
}

// GetCallCount returns how many times Complete was called.
func (m *MockLLMClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received so far.
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

// LastRequest returns the most recent request, or the zero value.
func (m *MockLLMClient) LastRequest() llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return llm.Request{}
	}
	return m.requests[len(m.requests)-1]
}

// Reset forgets recorded requests so replies start from the first again.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}
