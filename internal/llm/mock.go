package llm

import (
	"context"
	"sync"
)

// MockClient replays scripted responses in order. After the script runs out
// the last response repeats. It records every prompt it receives.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	errs      map[int]error // call index -> error to return instead
	prompts   []string
	next      int
}

// NewMockClient creates a mock that answers with responses.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{
		responses: responses,
		errs:      make(map[int]error),
	}
}

// FailOn makes the call with the given zero-based index return err.
func (m *MockClient) FailOn(call int, err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[call] = err
	return m
}

// Generate implements Client.
func (m *MockClient) Generate(ctx context.Context, prompt string, _ Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	call := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	if err, ok := m.errs[call]; ok {
		return "", err
	}

	if len(m.responses) == 0 {
		return "", nil
	}
	resp := m.responses[m.next]
	if m.next < len(m.responses)-1 {
		m.next++
	}
	return resp, nil
}

// Prompts returns every prompt received so far.
func (m *MockClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Calls returns how many times Generate was called.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}
