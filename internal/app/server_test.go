package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/core/cache"
	db "github.com/markdave123-py/lawgpt/internal/core/database"
	"github.com/markdave123-py/lawgpt/internal/core/events"
	"github.com/markdave123-py/lawgpt/internal/core/extraction"
	objectclient "github.com/markdave123-py/lawgpt/internal/core/object-client"
	"github.com/markdave123-py/lawgpt/internal/models"
	"github.com/markdave123-py/lawgpt/internal/services"
)

type echoLLM struct {
	mu   sync.Mutex
	fail bool
}

func (e *echoLLM) Generate(_ context.Context, model, prompt string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return "", errors.New("endpoint unreachable")
	}
	return model + ": " + prompt, nil
}

func (e *echoLLM) setFail(v bool) {
	e.mu.Lock()
	e.fail = v
	e.mu.Unlock()
}

type testServer struct {
	*httptest.Server
	llm *echoLLM
	hub *events.Hub
}

func setupServer(t *testing.T) *testServer {
	t.Helper()

	store := db.NewMemoryClient()
	bus := events.NewMemoryBus()
	hub := events.NewHub(nil)
	provider := &echoLLM{}

	users := services.NewUserService(store, services.NewTokenManager("test-secret", time.Hour))
	sessions := services.NewSessionService(store, bus)
	files := services.NewFileService(store, objectclient.NewMemoryClient(), extraction.NewDocconvExtractor(false), cache.NewMemoryCache(time.Hour))
	conversations := services.NewConversationService(store, sessions, files, provider, bus,
		services.ConversationOptions{DefaultModel: "LAWGPT-4", MaxContextChars: 1000})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	go func() { _ = bus.Forward(ctx, hub) }()

	srv := httptest.NewServer(NewRouter(RouterDeps{
		Users:         users,
		Sessions:      sessions,
		Files:         files,
		Conversations: conversations,
		Hub:           hub,
		CORSOrigins:   []string{"http://localhost:3000"},
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = bus.Close()
	})
	return &testServer{Server: srv, llm: provider, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.send(t, req)
}

func (s *testServer) send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (s *testServer) login(t *testing.T, email string) string {
	t.Helper()
	status, _ := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"firstName": "Asha", "lastName": "Rao", "mobileNumber": "9999999999",
		"email": email, "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, status)

	status, body := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"email": email, "password": "secret1"})
	require.Equal(t, http.StatusOK, status)
	return body["token"].(string)
}

func session(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	s, ok := body["session"].(map[string]any)
	require.True(t, ok, "response has no session: %v", body)
	return s
}

func messages(t *testing.T, s map[string]any) []map[string]any {
	t.Helper()
	raw := s["messages"].([]any)
	out := make([]map[string]any, len(raw))
	for i, m := range raw {
		out[i] = m.(map[string]any)
	}
	return out
}

func TestHealth(t *testing.T) {
	s := setupServer(t)
	status, body := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "healthy", body["status"])
}

func TestAuthFlow(t *testing.T) {
	s := setupServer(t)
	token := s.login(t, "flow@example.com")

	status, body := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"firstName": "A", "lastName": "B", "mobileNumber": "1", "email": "flow@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusConflict, status)
	require.NotEmpty(t, body["error"])

	status, _ = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "flow@example.com", "password": "nope!!"})
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodGet, "/api/auth/profile", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)

	status, body = s.do(t, http.MethodGet, "/api/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "flow@example.com", body["email"])
	require.NotContains(t, body, "password")

	status, body = s.do(t, http.MethodPut, "/api/auth/profile", token, map[string]any{"favoriteFeature": "Voice"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Voice", body["user"].(map[string]any)["favoriteFeature"])

	status, _ = s.do(t, http.MethodPost, "/api/auth/login", "", "not an object")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestConversationLifecycle(t *testing.T) {
	s := setupServer(t)
	token := s.login(t, "chat@example.com")

	status, body := s.do(t, http.MethodPost, "/api/conversation", token, map[string]any{"message": "Can my landlord keep the deposit?"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "LAWGPT-4: Can my landlord keep the deposit?", body["botReply"])
	sess := session(t, body)
	id := sess["_id"].(string)
	require.Len(t, messages(t, sess), 2)

	status, body = s.do(t, http.MethodPost, "/api/conversation", token, map[string]any{"message": "What if I damaged the carpet?", "sessionId": id, "model": "Legal-Pro"})
	require.Equal(t, http.StatusOK, status)
	msgs := messages(t, session(t, body))
	require.Len(t, msgs, 4)

	// edit the first question: later turns are dropped, one new reply appended
	first := msgs[0]["_id"].(string)
	status, body = s.do(t, http.MethodPut, "/api/conversation/"+id+"/messages/"+first, token, map[string]any{"message": "Can my landlord keep all of it?"})
	require.Equal(t, http.StatusOK, status)
	msgs = messages(t, session(t, body))
	require.Len(t, msgs, 2)
	require.Equal(t, "Can my landlord keep all of it?", msgs[0]["message"])
	require.Equal(t, "LAWGPT-4: Can my landlord keep all of it?", body["botReply"])

	status, _ = s.do(t, http.MethodPut, "/api/conversation/"+id+"/messages/"+msgs[1]["_id"].(string), token, map[string]any{"message": "x"})
	require.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(t, http.MethodPost, "/api/conversation/"+id+"/messages/"+msgs[1]["_id"].(string)+"/regenerate", token, map[string]any{"model": "Contract-AI"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Contract-AI: Can my landlord keep all of it?", body["botReply"])

	status, body = s.do(t, http.MethodPut, "/api/conversation/"+id, token, map[string]any{"title": "Deposit"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Deposit", body["title"])

	other := s.login(t, "other@example.com")
	status, _ = s.do(t, http.MethodDelete, "/api/conversation/"+id, other, nil)
	require.Equal(t, http.StatusNotFound, status)

	req, err := http.NewRequest(http.MethodGet, s.URL+"/api/conversation", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var list []models.ChatSession
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)
	require.Equal(t, "Deposit", list[0].Title)

	status, _ = s.do(t, http.MethodDelete, "/api/conversation/"+id, token, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodPut, "/api/conversation/"+id, token, map[string]any{"title": "gone"})
	require.Equal(t, http.StatusNotFound, status)
}

func TestNewSessionEndpoint(t *testing.T) {
	s := setupServer(t)
	token := s.login(t, "new@example.com")

	status, body := s.do(t, http.MethodPost, "/api/conversation/new", token, map[string]any{})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, models.NewSessionTitle, body["title"])
	require.Equal(t, models.GreetingMessage, messages(t, body)[0]["message"])
}

func TestInferenceFailureReturnsSession(t *testing.T) {
	s := setupServer(t)
	token := s.login(t, "down@example.com")
	s.llm.setFail(true)

	status, body := s.do(t, http.MethodPost, "/api/conversation", token, map[string]any{"message": "hello?"})
	require.Equal(t, http.StatusBadGateway, status)
	require.NotEmpty(t, body["error"])
	require.Len(t, messages(t, session(t, body)), 1)
}

func multipartRequest(t *testing.T, url, token string, fields map[string]string, files map[string][2]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, f := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+f[0]+`"`)
		h.Set("Content-Type", "text/plain")
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(f[1]))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestChatUpload(t *testing.T) {
	s := setupServer(t)
	token := s.login(t, "up@example.com")

	req := multipartRequest(t, s.URL+"/api/chat/upload", token,
		map[string]string{"message": "Is clause 4 enforceable?"},
		map[string][2]string{"file": {"contract.txt", "Clause 4: the employee shall not compete for 10 years."}})
	status, body := s.send(t, req)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body["botReply"], "Document: contract.txt")
	require.Contains(t, body["botReply"], "shall not compete")

	file := body["file"].(map[string]any)
	require.Equal(t, "contract.txt", file["originalName"])
	userMsg := messages(t, session(t, body))[0]
	require.Equal(t, "txt", userMsg["fileMetadata"].(map[string]any)["fileType"])

	req = multipartRequest(t, s.URL+"/api/chat/upload", token, nil,
		map[string][2]string{"file": {"evil.txt", "<script>steal()</script>"}})
	status, _ = s.send(t, req)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestFileEndpoints(t *testing.T) {
	s := setupServer(t)
	token := s.login(t, "files@example.com")

	req := multipartRequest(t, s.URL+"/api/files/upload", token, nil, map[string][2]string{
		"file-0": {"a.txt", "first"},
		"file-1": {"b.txt", "javascript:alert(1)"},
	})
	status, body := s.send(t, req)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 1, body["count"])
	require.Len(t, body["warnings"], 1)

	saved := body["files"].([]any)[0].(map[string]any)["file"].(map[string]any)
	id := saved["id"].(string)

	getReq, err := http.NewRequest(http.MethodGet, s.URL+"/api/files/"+id, nil)
	require.NoError(t, err)
	getReq.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(getReq)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "first", string(raw))
	require.Equal(t, `attachment; filename=a.txt`, resp.Header.Get("Content-Disposition"))

	status, body = s.do(t, http.MethodGet, "/api/files/types", token, nil)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, body["supportedTypes"])

	status, _ = s.do(t, http.MethodDelete, "/api/files/"+id, token, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodGet, "/api/files/"+id, token, nil)
	require.Equal(t, http.StatusNotFound, status)

	req = multipartRequest(t, s.URL+"/api/files/upload", token, nil, map[string][2]string{
		"file": {"bad.txt", "eval(x)"},
	})
	status, body = s.send(t, req)
	require.Equal(t, http.StatusBadRequest, status)
	require.Len(t, body["errors"], 1)
}

func TestWebsocketFeed(t *testing.T) {
	s := setupServer(t)
	token := s.login(t, "ws@example.com")

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/ws?token=" + token
	_, resp, err := websocket.DefaultDialer.Dial(strings.Replace(wsURL, token, "bogus", 1), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	uid := userIDFromProfile(t, s, token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Clients(uid) == 1 }, 2*time.Second, 20*time.Millisecond)

	status, _ := s.do(t, http.MethodPost, "/api/conversation/new", token, map[string]any{"title": "Live"})
	require.Equal(t, http.StatusCreated, status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev core.ConversationEvent
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, core.EventSessionUpdated, ev.Type)
	require.Equal(t, "Live", ev.Session.Title)
}

func userIDFromProfile(t *testing.T, s *testServer, token string) string {
	t.Helper()
	_, body := s.do(t, http.MethodGet, "/api/auth/profile", token, nil)
	return body["_id"].(string)
}
