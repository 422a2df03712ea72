package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTwitchServer mocks the Helix endpoints the bot calls and the OAuth
// token endpoint. Helix routes live under /helix so the server URL plus
// "/helix" is a drop-in base URL.
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc
	hits     map[string]int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.hits[r.URL.Path]++
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// HelixURL is the base URL for a HelixClient talking to this server.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// TokenURL is the OAuth token endpoint of this server.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// Hits returns how many requests reached path.
func (m *MockTwitchServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

func (m *MockTwitchServer) handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockStreamsResponse serves /helix/streams. streams is keyed by user_login;
// logins without an entry are offline.
func (m *MockTwitchServer) MockStreamsResponse(streams map[string][]map[string]any) {
	m.handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		data := streams[r.URL.Query().Get("user_login")]
		if data == nil {
			data = []map[string]any{}
		}
		writeJSON(w, map[string]any{"data": data})
	})
}

// MockSearchChannelsResponse serves /helix/search/channels with a fixed result set.
func (m *MockTwitchServer) MockSearchChannelsResponse(channels []map[string]any) {
	m.handle("/helix/search/channels", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": channels})
	})
}

// MockStatus makes path answer with status and an empty body.
func (m *MockTwitchServer) MockStatus(path string, status int) {
	m.handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

// MockOAuthTokenResponse serves the client credentials token endpoint.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	})
}
