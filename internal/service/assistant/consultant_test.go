package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"dehqonjon/internal/auth"
	"dehqonjon/internal/locale"
	"dehqonjon/internal/models"
	"dehqonjon/internal/service/ai"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*models.ChatSession
	current  string
	created  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*models.ChatSession)}
}

func (s *fakeStore) CreateSession(ctx context.Context, creds auth.Credentials) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	id := fmt.Sprintf("s-%d", s.created)
	s.sessions[id] = &models.ChatSession{ID: id}
	s.current = id
	return id
}

func (s *fakeStore) CurrentSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *fakeStore) Session(id string) (models.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	se, ok := s.sessions[id]
	if !ok {
		return models.ChatSession{}, false
	}
	return se.Clone(), true
}

func (s *fakeStore) AddMessage(sessionID string, msg models.ChatMessage, creds auth.Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if se, ok := s.sessions[sessionID]; ok {
		se.Messages = append(se.Messages, msg)
	}
}

func (s *fakeStore) messages(id string) []models.ChatMessage {
	se, _ := s.Session(id)
	return se.Messages
}

type fakeAdvisor struct {
	history  []models.ChatMessage
	text     string
	note     string
	mime     string
	toolSess string
	replyErr error
	imageErr error
}

func (a *fakeAdvisor) Reply(ctx context.Context, history []models.ChatMessage, text string) (*ai.Answer, error) {
	a.history = history
	a.text = text
	a.toolSess, _ = ai.ToolSessionFromContext(ctx)
	if a.replyErr != nil {
		return nil, a.replyErr
	}
	return &ai.Answer{Text: "javob: " + text, Suggestions: []string{"Rasm yuklash"}}, nil
}

func (a *fakeAdvisor) AnalyzeImage(ctx context.Context, imageBase64, mimeType, note string) (*ai.ImageAnalysis, error) {
	a.note = note
	a.mime = mimeType
	if a.imageErr != nil {
		return nil, a.imageErr
	}
	return &ai.ImageAnalysis{Analysis: "Fitoftoroz", Confidence: 0.9}, nil
}

var testCreds = auth.Bearer("tok")

func newTestConsultant(store SessionStore, advisor Advisor) *Consultant {
	logger, _ := test.NewNullLogger()
	c := NewConsultant(store, advisor, locale.For("uz"), logger)
	n := 0
	c.newID = func() string {
		n++
		return fmt.Sprintf("m-%d", n)
	}
	c.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }
	return c
}

func TestAskAppendsQuestionAndReply(t *testing.T) {
	store := newFakeStore()
	id := store.CreateSession(context.Background(), testCreds)
	store.AddMessage(id, models.ChatMessage{ID: "old", Role: models.RoleUser, Content: "Salom"}, testCreds)

	adv := &fakeAdvisor{}
	c := newTestConsultant(store, adv)
	ex, err := c.Ask(context.Background(), testCreds, "", "Pomidor barglari sarg'aydi")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ex.SessionID != id {
		t.Fatalf("expected current session %q, got %q", id, ex.SessionID)
	}
	if len(adv.history) != 1 || adv.history[0].ID != "old" {
		t.Fatalf("history should exclude the new question: %+v", adv.history)
	}
	if adv.toolSess != id {
		t.Fatalf("tool session not set on context: %q", adv.toolSess)
	}
	msgs := store.messages(id)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[1].Role != models.RoleUser || msgs[1].Content != "Pomidor barglari sarg'aydi" {
		t.Fatalf("question not appended: %+v", msgs[1])
	}
	if msgs[2].Role != models.RoleAssistant || msgs[2].Content != "javob: Pomidor barglari sarg'aydi" {
		t.Fatalf("reply not appended: %+v", msgs[2])
	}
	if len(ex.Suggestions) != 1 {
		t.Fatalf("suggestions not carried: %v", ex.Suggestions)
	}
}

func TestAskAdvisorFailureAppendsErrorReply(t *testing.T) {
	store := newFakeStore()
	id := store.CreateSession(context.Background(), testCreds)
	boom := errors.New("quota exceeded")
	c := newTestConsultant(store, &fakeAdvisor{replyErr: boom})

	ex, err := c.Ask(context.Background(), testCreds, id, "Salom")
	if !errors.Is(err, boom) {
		t.Fatalf("expected advisor error, got %v", err)
	}
	if ex == nil || ex.Reply.Content != locale.For("uz").ErrorReply {
		t.Fatalf("expected localized error reply, got %+v", ex)
	}
	if msgs := store.messages(id); len(msgs) != 2 || msgs[1].Content != ex.Reply.Content {
		t.Fatalf("error reply not stored: %+v", msgs)
	}
}

func TestAskWithoutAdvisor(t *testing.T) {
	store := newFakeStore()
	c := newTestConsultant(store, nil)
	ex, err := c.Ask(context.Background(), testCreds, "", "Salom")
	if !errors.Is(err, ai.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if store.created != 1 {
		t.Fatalf("a session should be created when none is selected")
	}
	if msgs := store.messages(ex.SessionID); len(msgs) != 2 {
		t.Fatalf("expected question and error reply, got %d", len(msgs))
	}
}

func TestAskRejectsEmptyMessage(t *testing.T) {
	store := newFakeStore()
	c := newTestConsultant(store, &fakeAdvisor{})
	if _, err := c.Ask(context.Background(), testCreds, "", ""); err == nil {
		t.Fatalf("expected error for empty message")
	}
	if store.created != 0 {
		t.Fatalf("empty message must not create a session")
	}
}

func TestAskUnknownSessionCreatesOne(t *testing.T) {
	store := newFakeStore()
	c := newTestConsultant(store, &fakeAdvisor{})
	ex, err := c.Ask(context.Background(), testCreds, "gone", "Salom")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ex.SessionID == "gone" || store.created != 1 {
		t.Fatalf("expected a new session, got %q", ex.SessionID)
	}
}

func TestDiagnoseAppendsPhotoAndAnalysis(t *testing.T) {
	store := newFakeStore()
	id := store.CreateSession(context.Background(), testCreds)
	adv := &fakeAdvisor{}
	c := newTestConsultant(store, adv)

	res, err := c.Diagnose(context.Background(), testCreds, PhotoRequest{
		SessionID:   id,
		ImageBase64: "QUJD",
		MIMEType:    "image/png",
		ImageURL:    "blob:leaf",
	})
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	phrases := locale.For("uz")
	if adv.note != phrases.VisionNote || adv.mime != "image/png" {
		t.Fatalf("unexpected advisor input note=%q mime=%q", adv.note, adv.mime)
	}
	msgs := store.messages(id)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ImageURL != "blob:leaf" || msgs[0].Content != phrases.PhotoPrompt {
		t.Fatalf("photo message malformed: %+v", msgs[0])
	}
	if res.Reply == nil || res.Reply.Content != "Fitoftoroz" || msgs[1].Content != "Fitoftoroz" {
		t.Fatalf("analysis not appended: %+v", res)
	}
}

func TestDiagnoseFailureAppendsNothingMore(t *testing.T) {
	store := newFakeStore()
	id := store.CreateSession(context.Background(), testCreds)
	c := newTestConsultant(store, &fakeAdvisor{imageErr: errors.New("vision down")})

	res, err := c.Diagnose(context.Background(), testCreds, PhotoRequest{SessionID: id, ImageBase64: "QUJD", Note: "Nima bu?"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.Reply != nil {
		t.Fatalf("no reply expected on failure")
	}
	if msgs := store.messages(id); len(msgs) != 1 {
		t.Fatalf("only the photo message should be stored, got %d", len(msgs))
	}

	if _, err := c.Diagnose(context.Background(), testCreds, PhotoRequest{SessionID: id}); err == nil {
		t.Fatalf("expected error for missing image")
	}
}

func TestDiagnoseWithoutAdvisor(t *testing.T) {
	store := newFakeStore()
	c := newTestConsultant(store, nil)
	res, err := c.Diagnose(context.Background(), testCreds, PhotoRequest{ImageBase64: "QUJD"})
	if !errors.Is(err, ai.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if msgs := store.messages(res.SessionID); len(msgs) != 1 {
		t.Fatalf("photo message should still be stored, got %d", len(msgs))
	}
}
