package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"

	"dehqonjon/internal/auth"
	"dehqonjon/internal/chatstore"
	"dehqonjon/internal/locale"
	"dehqonjon/internal/models"
	"dehqonjon/internal/service/ai"
	"dehqonjon/internal/service/assistant"
	"dehqonjon/internal/storage"
	"dehqonjon/internal/worker"
)

var authHeader = map[string]string{"Authorization": "Bearer tok"}

func TestSessionLifecycleAnonymous(t *testing.T) {
	router, _ := newTestServer(t, &mockAdvisor{})

	createResp := doJSONRequest(t, router, http.MethodPost, "/api/chat/sessions", nil, nil)
	assertStatus(t, createResp, http.StatusCreated)
	var created struct {
		SessionID string `json:"session_id"`
	}
	decodeJSON(t, createResp.Body.Bytes(), &created)
	if created.SessionID == "" {
		t.Fatalf("expected session id")
	}

	msgResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/chat/sessions/%s/messages", created.SessionID),
		map[string]string{"role": "user", "content": "Bug'doy qachon ekiladi?"}, nil)
	assertStatus(t, msgResp, http.StatusNoContent)

	listResp := doJSONRequest(t, router, http.MethodGet, "/api/chat/sessions", nil, nil)
	assertStatus(t, listResp, http.StatusOK)
	var list struct {
		Sessions         []models.ChatSession `json:"sessions"`
		CurrentSessionID string               `json:"current_session_id"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &list)
	if len(list.Sessions) != 1 || list.CurrentSessionID != created.SessionID {
		t.Fatalf("unexpected list %+v", list)
	}
	if list.Sessions[0].Title != "Bug'doy qachon ekiladi?" {
		t.Fatalf("title should come from the first user message, got %q", list.Sessions[0].Title)
	}

	curResp := doJSONRequest(t, router, http.MethodGet, "/api/chat/current", nil, nil)
	assertStatus(t, curResp, http.StatusOK)

	renameResp := doJSONRequest(t, router, http.MethodPatch,
		fmt.Sprintf("/api/chat/sessions/%s", created.SessionID), map[string]string{"title": "Bug'doy"}, nil)
	assertStatus(t, renameResp, http.StatusNoContent)

	delResp := doJSONRequest(t, router, http.MethodDelete,
		fmt.Sprintf("/api/chat/sessions/%s", created.SessionID), nil, nil)
	assertStatus(t, delResp, http.StatusNoContent)

	curResp = doJSONRequest(t, router, http.MethodGet, "/api/chat/current", nil, nil)
	assertStatus(t, curResp, http.StatusNotFound)
}

func TestCreateSessionWithCredentialsUsesServerID(t *testing.T) {
	router, remote := newTestServer(t, &mockAdvisor{})

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat/sessions", nil, authHeader)
	assertStatus(t, resp, http.StatusCreated)
	var created struct {
		SessionID string `json:"session_id"`
	}
	decodeJSON(t, resp.Body.Bytes(), &created)
	if created.SessionID != "srv-1" {
		t.Fatalf("expected promoted server id, got %q", created.SessionID)
	}
	if remote.createCount() != 1 {
		t.Fatalf("expected one remote create")
	}
}

func TestSelectAndValidation(t *testing.T) {
	router, _ := newTestServer(t, &mockAdvisor{})

	resp := doJSONRequest(t, router, http.MethodPut, "/api/chat/current", map[string]string{"session_id": "nowhere"}, nil)
	assertStatus(t, resp, http.StatusNoContent)
	resp = doJSONRequest(t, router, http.MethodGet, "/api/chat/sessions", nil, nil)
	var list struct {
		CurrentSessionID string `json:"current_session_id"`
	}
	decodeJSON(t, resp.Body.Bytes(), &list)
	if list.CurrentSessionID != "nowhere" {
		t.Fatalf("selection should not be validated, got %q", list.CurrentSessionID)
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/api/chat/sessions/x/messages",
		map[string]string{"role": "system", "content": "hi"}, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPatch, "/api/chat/sessions/x", map[string]string{"title": "  "}, nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestSyncRequiresCredentialsAndReplaces(t *testing.T) {
	router, remote := newTestServer(t, &mockAdvisor{})
	remote.list = []models.RemoteSession{
		{ID: "srv-9", Title: "Olma", CreatedAt: "2024-04-01T10:00:00", UpdatedAt: "2024-04-01T10:00:00"},
	}

	doJSONRequest(t, router, http.MethodPost, "/api/chat/sessions", nil, nil)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat/sync", nil, nil)
	assertStatus(t, resp, http.StatusUnauthorized)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/chat/sync", nil, authHeader)
	assertStatus(t, resp, http.StatusNoContent)

	resp = doJSONRequest(t, router, http.MethodGet, "/api/chat/sessions", nil, nil)
	var list struct {
		Sessions []models.ChatSession `json:"sessions"`
	}
	decodeJSON(t, resp.Body.Bytes(), &list)
	if len(list.Sessions) != 1 || list.Sessions[0].ID != "srv-9" || !list.Sessions[0].Synced {
		t.Fatalf("local sessions should be replaced by the server list, got %+v", list.Sessions)
	}
}

func TestRefreshSessionFetchesServerCopy(t *testing.T) {
	router, remote := newTestServer(t, &mockAdvisor{})
	remote.list = []models.RemoteSession{{
		ID:        "srv-4",
		Title:     "Uzum",
		CreatedAt: "2024-04-02T09:00:00",
		Messages: []models.RemoteMessage{
			{ID: "r1", Role: "user", Content: "Uzum bargida dog'lar", CreatedAt: "2024-04-02T09:00:01"},
		},
	}}

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat/sessions/srv-4/refresh", nil, nil)
	assertStatus(t, resp, http.StatusUnauthorized)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/chat/sessions/srv-4/refresh", nil, authHeader)
	assertStatus(t, resp, http.StatusNoContent)

	resp = doJSONRequest(t, router, http.MethodGet, "/api/chat/sessions", nil, nil)
	var list struct {
		Sessions []models.ChatSession `json:"sessions"`
	}
	decodeJSON(t, resp.Body.Bytes(), &list)
	if len(list.Sessions) != 1 || list.Sessions[0].ID != "srv-4" || len(list.Sessions[0].Messages) != 1 {
		t.Fatalf("refreshed session missing, got %+v", list.Sessions)
	}
}

func TestAskFlow(t *testing.T) {
	router, _ := newTestServer(t, &mockAdvisor{})

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat/ask", map[string]string{"message": "Salom"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var ex assistant.Exchange
	decodeJSON(t, resp.Body.Bytes(), &ex)
	if ex.SessionID == "" || ex.Reply.Content != "mock: Salom" {
		t.Fatalf("unexpected exchange %+v", ex)
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/api/chat/ask", map[string]string{"message": " "}, nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestAskAdvisorFailure(t *testing.T) {
	router, _ := newTestServer(t, &mockAdvisor{err: errors.New("provider down")})

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat/ask", map[string]string{"message": "Salom"}, nil)
	assertStatus(t, resp, http.StatusBadGateway)
	var body struct {
		Exchange assistant.Exchange `json:"exchange"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Exchange.Reply.Content != locale.For("uz").ErrorReply {
		t.Fatalf("expected localized error reply, got %q", body.Exchange.Reply.Content)
	}
}

func TestAskWithoutAdvisor(t *testing.T) {
	router, _ := newTestServer(t, nil)
	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat/ask", map[string]string{"message": "Salom"}, nil)
	assertStatus(t, resp, http.StatusServiceUnavailable)
}

func TestDiagnoseMultipart(t *testing.T) {
	adv := &mockAdvisor{}
	router, _ := newTestServer(t, adv)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("image_url", "blob:leaf")
	fw, err := mw.CreateFormFile("image", "leaf.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte("\x89PNG\r\n\x1a\n0000000000"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/chat/diagnose", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusOK)

	if adv.mime != "image/png" {
		t.Fatalf("expected detected mime image/png, got %q", adv.mime)
	}
	var res assistant.PhotoResult
	decodeJSON(t, rec.Body.Bytes(), &res)
	if res.Question.ImageURL != "blob:leaf" || res.Reply == nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDiagnoseRejectsNonImage(t *testing.T) {
	router, _ := newTestServer(t, &mockAdvisor{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("image", "notes.txt")
	_, _ = fw.Write([]byte("just some text"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/chat/diagnose", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusBadRequest)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat/diagnose", map[string]string{"note": "?"}, nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t, nil)
	resp := doJSONRequest(t, router, http.MethodGet, "/health", nil, nil)
	assertStatus(t, resp, http.StatusOK)
}

func newTestServer(t *testing.T, advisor assistant.Advisor) (*gin.Engine, *mockRemote) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()

	remote := &mockRemote{}
	store := chatstore.New(chatstore.Options{
		KV:     storage.NewMemoryKV(),
		Remote: remote,
		Runner: worker.NewDispatcher(worker.Config{MaxWorkers: 2, QueueSize: 16}, logger),
		Logger: logger,
	})
	t.Cleanup(func() {
		closed := make(chan struct{})
		go func() {
			store.Close()
			close(closed)
		}()
		select {
		case <-closed:
		case <-time.After(5 * time.Second):
			t.Fatalf("store Close did not return")
		}
	})

	consultant := assistant.NewConsultant(store, advisor, locale.For("uz"), logger)
	handler := NewHandler(store, consultant, logger)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, remote
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

type mockRemote struct {
	mu      sync.Mutex
	created int
	list    []models.RemoteSession
}

func (m *mockRemote) CreateSession(ctx context.Context, creds auth.Credentials, title string) (*models.RemoteSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	return &models.RemoteSession{
		ID:        fmt.Sprintf("srv-%d", m.created),
		Title:     title,
		CreatedAt: "2024-05-01T08:00:00",
		UpdatedAt: "2024-05-01T08:00:00",
	}, nil
}

func (m *mockRemote) ListSessions(ctx context.Context, creds auth.Credentials) ([]models.RemoteSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list, nil
}

func (m *mockRemote) GetSession(ctx context.Context, creds auth.Credentials, sessionID string) (*models.RemoteSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rs := range m.list {
		if rs.ID == sessionID {
			return &rs, nil
		}
	}
	return nil, errors.New("session not found")
}

func (m *mockRemote) AppendMessage(ctx context.Context, creds auth.Credentials, sessionID string, msg models.ChatMessage) error {
	return nil
}

func (m *mockRemote) DeleteSession(ctx context.Context, creds auth.Credentials, sessionID string) error {
	return nil
}

func (m *mockRemote) createCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

type mockAdvisor struct {
	err  error
	mime string
}

func (m *mockAdvisor) Reply(ctx context.Context, history []models.ChatMessage, text string) (*ai.Answer, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &ai.Answer{Text: "mock: " + text}, nil
}

func (m *mockAdvisor) AnalyzeImage(ctx context.Context, imageBase64, mimeType, note string) (*ai.ImageAnalysis, error) {
	m.mime = mimeType
	if m.err != nil {
		return nil, m.err
	}
	return &ai.ImageAnalysis{Analysis: "Sog'lom barg", Confidence: 0.7}, nil
}
