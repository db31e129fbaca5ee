package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockRelayServer is a test server standing in for the downstream chat relay.
// It records every payload POSTed to it.
type MockRelayServer struct {
	*httptest.Server

	mu       sync.Mutex
	payloads []map[string]any
	status   int
}

// NewMockRelayServer creates a relay endpoint that accepts JSON notifications.
func NewMockRelayServer(t *testing.T) *MockRelayServer {
	t.Helper()
	m := &MockRelayServer{status: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.payloads = append(m.payloads, body)
		status := m.status
		m.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(m.Close)
	return m
}

// SetStatus changes the HTTP status returned to subsequent requests.
func (m *MockRelayServer) SetStatus(code int) {
	m.mu.Lock()
	m.status = code
	m.mu.Unlock()
}

// Payloads returns a copy of all recorded request bodies.
func (m *MockRelayServer) Payloads() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, len(m.payloads))
	copy(out, m.payloads)
	return out
}
