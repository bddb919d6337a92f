// Package testutil provides testing utilities for the EasyEcom extractor.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior of a mock API endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock EasyEcom server for testing. It serves a
// token endpoint at /access/token and any configured resource endpoints.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount int
	TokenCount   int
	AuthHeaders  []string
	LastQuery    map[string][]string
}

// NewMockAPI creates a new mock API server with a working token endpoint.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/access/token" {
			mock.mu.Lock()
			mock.TokenCount++
			mock.mu.Unlock()

			mock.mu.RLock()
			handler, exists := mock.handlers[r.URL.Path]
			mock.mu.RUnlock()
			if exists {
				handler(w, r)
				return
			}
			mock.defaultTokenHandler(w, r)
			return
		}

		mock.mu.Lock()
		mock.RequestCount++
		mock.AuthHeaders = append(mock.AuthHeaders, r.Header.Get("Authorization"))
		mock.LastQuery = r.URL.Query()
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// TokenURL returns the mock identity endpoint URL.
func (m *MockAPI) TokenURL() string {
	return m.server.URL + "/access/token"
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.TokenCount = 0
	m.AuthHeaders = nil
	m.LastQuery = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetPagedResponses configures a path to serve one response per cursor
// value. The empty cursor selects the first page.
func (m *MockAPI) SetPagedResponses(path string, pages map[string]MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		resp, ok := pages[cursor]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"message": "unknown cursor %q"}`, cursor)
			return
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(resp.StatusCode)
		w.Write([]byte(resp.Body))
	})
}

// GetRequestCount returns the number of resource requests served.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetTokenCount returns the number of token endpoint calls served.
func (m *MockAPI) GetTokenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TokenCount
}

// GetAuthHeaders returns the Authorization header of every resource
// request, in order.
func (m *MockAPI) GetAuthHeaders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.AuthHeaders...)
}

// defaultTokenHandler issues a standard token response.
func (m *MockAPI) defaultTokenHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(NewTokenBody("test-jwt-token", 3600)))
}

// defaultHandler serves the API's zero-result sentinel.
func (m *MockAPI) defaultHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"data": "No Data Found"}`))
}

// NewTokenBody builds an identity-endpoint response body.
func NewTokenBody(token string, expiresIn int64) string {
	body, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"token": map[string]any{
				"jwt_token":  token,
				"expires_in": expiresIn,
			},
		},
	})
	return string(body)
}

// NewPageBody builds a resource page body with list-shaped data and an
// optional nextUrl.
func NewPageBody(records []map[string]any, nextURL string) string {
	payload := map[string]any{"data": records}
	if nextURL != "" {
		payload["nextUrl"] = nextURL
	}
	body, _ := json.Marshal(payload)
	return string(body)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "Rate limit exceeded"}`,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Internal server error"}`,
	}
}
