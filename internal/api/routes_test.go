package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/liveview/adapters/memory"
	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
	"github.com/satriahrh/liveview/internal/auth"
	"github.com/satriahrh/liveview/internal/websocket"
)

type testAPI struct {
	server   *httptest.Server
	hub      *websocket.Hub
	tokens   *auth.TokenManager
	archives *memory.ArchiveRepository
}

func newTestAPI(t *testing.T, voices repositories.VoiceLister) *testAPI {
	t.Helper()
	logger := zaptest.NewLogger(t)

	tokens, err := auth.NewTokenManager(auth.TokenConfig{Secret: "test-secret", TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewTokenManager failed: %v", err)
	}

	hub := websocket.NewHub(websocket.HubConfig{}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	archives := memory.NewArchiveRepository()
	e := echo.New()
	InitRoutes(e, Dependencies{
		Hub:      hub,
		Tokens:   tokens,
		Clients:  memory.NewClientRegistry(map[string]string{"alice": "alice-key", "bob": "bob-key"}),
		Archives: archives,
		Presence: memory.NewPresenceRepository(time.Minute),
		Voices:   voices,
	}, logger)

	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		cancel()
		<-stopped
		srv.Close()
	})
	return &testAPI{server: srv, hub: hub, tokens: tokens, archives: archives}
}

func (a *testAPI) token(t *testing.T, clientID string) string {
	t.Helper()
	token, _, err := a.tokens.GenerateClientToken(clientID)
	if err != nil {
		t.Fatalf("GenerateClientToken failed: %v", err)
	}
	return token
}

func (a *testAPI) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

// connect opens a live session for clientID and returns its ID
func (a *testAPI) connect(t *testing.T, clientID string) string {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/ws?token=" + a.token(t, clientID)
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var greeting websocket.SessionMessage
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatalf("Failed to read greeting: %v", err)
	}
	if greeting.Type != websocket.MessageTypeSession || greeting.SessionID == "" {
		t.Fatalf("Unexpected greeting %+v", greeting)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := a.hub.Session(greeting.SessionID); ok {
			return greeting.SessionID
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Session was not registered")
	return ""
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.do(t, http.MethodGet, "/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	decode(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("Unexpected body %v", body)
	}
}

func TestIssueToken(t *testing.T) {
	api := newTestAPI(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"client_id":"alice","access_key":"alice-key"}`, http.StatusOK},
		{"wrong key", `{"client_id":"alice","access_key":"bob-key"}`, http.StatusUnauthorized},
		{"unknown client", `{"client_id":"carol","access_key":"x"}`, http.StatusUnauthorized},
		{"missing fields", `{"client_id":"alice"}`, http.StatusBadRequest},
		{"malformed", `{"client_id":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.do(t, http.MethodPost, "/api/v1/auth/token", "", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("Expected %d, got %d", tt.status, resp.StatusCode)
			}
			if tt.status != http.StatusOK {
				return
			}

			var token TokenResponse
			decode(t, resp, &token)
			claims, err := api.tokens.ValidateToken(token.Token)
			if err != nil {
				t.Fatalf("Issued token is invalid: %v", err)
			}
			if claims.ClientID != "alice" || token.ClientID != "alice" {
				t.Errorf("Unexpected token for %q", claims.ClientID)
			}
		})
	}
}

func TestRequireClient(t *testing.T) {
	api := newTestAPI(t, nil)

	if resp := api.do(t, http.MethodGet, "/api/v1/sessions", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", resp.StatusCode)
	}
	if resp := api.do(t, http.MethodGet, "/api/v1/sessions", "garbage", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 with bad token, got %d", resp.StatusCode)
	}

	url := "ws" + strings.TrimPrefix(api.server.URL, "http") + "/ws"
	_, resp, err := gorilla.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected WebSocket without token to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 upgrade failure, got %v", resp)
	}
}

func TestSessionExportAndArchive(t *testing.T) {
	api := newTestAPI(t, nil)
	sessionID := api.connect(t, "alice")
	alice := api.token(t, "alice")
	bob := api.token(t, "bob")

	var sessions SessionsResponse
	decode(t, api.do(t, http.MethodGet, "/api/v1/sessions", alice, ""), &sessions)
	if len(sessions.Sessions) != 1 || sessions.Sessions[0].SessionID != sessionID {
		t.Fatalf("Unexpected sessions %+v", sessions.Sessions)
	}
	decode(t, api.do(t, http.MethodGet, "/api/v1/sessions", bob, ""), &sessions)
	if len(sessions.Sessions) != 0 {
		t.Errorf("Bob should not see Alice's sessions, got %+v", sessions.Sessions)
	}

	resp := api.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID+"/export", alice, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment;") {
		t.Errorf("Expected attachment, got %q", cd)
	}
	var export entities.SessionExport
	decode(t, resp, &export)
	if export.SessionID != sessionID {
		t.Errorf("Expected export of %s, got %s", sessionID, export.SessionID)
	}

	if resp := api.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID+"/export", bob, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for another client's session, got %d", resp.StatusCode)
	}

	resp = api.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/archive", alice, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	var archive entities.Archive
	decode(t, resp, &archive)
	if archive.ClientID != "alice" || archive.Export.SessionID != sessionID {
		t.Errorf("Unexpected archive %+v", archive)
	}

	if resp := api.do(t, http.MethodGet, "/api/v1/archives/"+archive.ID, alice, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if resp := api.do(t, http.MethodGet, "/api/v1/archives/"+archive.ID, bob, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for another client's archive, got %d", resp.StatusCode)
	}

	var list ArchivesResponse
	decode(t, api.do(t, http.MethodGet, "/api/v1/archives?limit=5", alice, ""), &list)
	if len(list.Archives) != 1 {
		t.Errorf("Expected 1 archive, got %d", len(list.Archives))
	}
	if resp := api.do(t, http.MethodGet, "/api/v1/archives?limit=-1", alice, ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", resp.StatusCode)
	}

	if resp := api.do(t, http.MethodDelete, "/api/v1/archives/"+archive.ID, bob, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 deleting another client's archive, got %d", resp.StatusCode)
	}
	if resp := api.do(t, http.MethodDelete, "/api/v1/archives/"+archive.ID, alice, ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	if resp := api.do(t, http.MethodGet, "/api/v1/archives/"+archive.ID, alice, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", resp.StatusCode)
	}
}

type staticVoices []repositories.Voice

func (v staticVoices) ListVoices(ctx context.Context) ([]repositories.Voice, error) {
	return v, nil
}

func TestListVoices(t *testing.T) {
	api := newTestAPI(t, nil)
	var resp VoicesResponse
	decode(t, api.do(t, http.MethodGet, "/api/v1/voices", api.token(t, "alice"), ""), &resp)
	if len(resp.Voices) != len(entities.Voices) {
		t.Errorf("Expected %d built-in voices, got %d", len(entities.Voices), len(resp.Voices))
	}

	api = newTestAPI(t, staticVoices{{ID: "v1", Name: "Rachel"}})
	decode(t, api.do(t, http.MethodGet, "/api/v1/voices", api.token(t, "alice"), ""), &resp)
	if len(resp.Voices) != 1 || resp.Voices[0].Name != "Rachel" {
		t.Errorf("Expected provider voices, got %+v", resp.Voices)
	}
}
