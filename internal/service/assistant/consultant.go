package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dehqonjon/internal/auth"
	"dehqonjon/internal/locale"
	"dehqonjon/internal/models"
	"dehqonjon/internal/service/ai"
)

// SessionStore is the part of chatstore.Store the consultant drives.
type SessionStore interface {
	CreateSession(ctx context.Context, creds auth.Credentials) string
	CurrentSessionID() string
	Session(id string) (models.ChatSession, bool)
	AddMessage(sessionID string, msg models.ChatMessage, creds auth.Credentials)
}

// Advisor produces the assistant side of the conversation.
type Advisor interface {
	Reply(ctx context.Context, history []models.ChatMessage, text string) (*ai.Answer, error)
	AnalyzeImage(ctx context.Context, imageBase64, mimeType, note string) (*ai.ImageAnalysis, error)
}

// Exchange is one question and the reply written for it.
type Exchange struct {
	SessionID   string             `json:"session_id"`
	Question    models.ChatMessage `json:"question"`
	Reply       models.ChatMessage `json:"reply"`
	Suggestions []string           `json:"suggestions,omitempty"`
}

// PhotoRequest carries an uploaded plant photo.
type PhotoRequest struct {
	SessionID   string
	ImageBase64 string
	MIMEType    string
	// ImageURL is what the UI shows for the photo (blob or remote URL).
	ImageURL string
	Note     string
}

// PhotoResult is the outcome of a diagnosis. Reply is nil when the analysis failed.
type PhotoResult struct {
	SessionID string              `json:"session_id"`
	Question  models.ChatMessage  `json:"question"`
	Reply     *models.ChatMessage `json:"reply,omitempty"`
	Analysis  *ai.ImageAnalysis   `json:"analysis,omitempty"`
}

// Consultant runs the AI consultant page flow on top of the session store.
type Consultant struct {
	store   SessionStore
	advisor Advisor
	phrases locale.Phrases
	log     logrus.FieldLogger
	now     func() time.Time
	newID   func() string
}

// NewConsultant wires the flow. advisor may be nil when no provider is
// configured; questions then get the localized error reply.
func NewConsultant(store SessionStore, advisor Advisor, phrases locale.Phrases, logger logrus.FieldLogger) *Consultant {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Consultant{
		store:   store,
		advisor: advisor,
		phrases: phrases,
		log:     logger.WithField("component", "consultant"),
		now:     time.Now,
		newID:   newMessageID,
	}
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Ask appends the user's question, asks the advisor with the earlier
// history and appends the answer. On advisor failure the localized error
// reply is appended instead and the error is returned with the exchange.
func (c *Consultant) Ask(ctx context.Context, creds auth.Credentials, sessionID, text string) (*Exchange, error) {
	if text == "" {
		return nil, errors.New("message cannot be empty")
	}
	sessionID = c.resolveSession(ctx, creds, sessionID)

	question := c.message(models.RoleUser, text, "")
	c.store.AddMessage(sessionID, question, creds)

	var history []models.ChatMessage
	if se, ok := c.store.Session(sessionID); ok && len(se.Messages) > 0 {
		// everything except the question just added
		history = se.Messages[:len(se.Messages)-1]
	}

	ex := &Exchange{SessionID: sessionID, Question: question}
	answer, err := c.reply(ai.WithToolSession(ctx, sessionID), history, text)
	if err != nil {
		c.log.WithError(err).WithField("session_id", sessionID).Error("advisor reply failed")
		ex.Reply = c.message(models.RoleAssistant, c.phrases.ErrorReply, "")
		c.store.AddMessage(sessionID, ex.Reply, creds)
		return ex, err
	}
	ex.Reply = c.message(models.RoleAssistant, answer.Text, "")
	ex.Suggestions = answer.Suggestions
	c.store.AddMessage(sessionID, ex.Reply, creds)
	return ex, nil
}

// Diagnose appends the photo as a user message and the analysis as the
// reply. Nothing is appended for a failed analysis.
func (c *Consultant) Diagnose(ctx context.Context, creds auth.Credentials, req PhotoRequest) (*PhotoResult, error) {
	if req.ImageBase64 == "" {
		return nil, errors.New("image data is required")
	}
	sessionID := c.resolveSession(ctx, creds, req.SessionID)

	question := c.message(models.RoleUser, c.phrases.PhotoPrompt, req.ImageURL)
	c.store.AddMessage(sessionID, question, creds)
	res := &PhotoResult{SessionID: sessionID, Question: question}

	if c.advisor == nil {
		return res, ai.ErrNotConfigured
	}
	note := req.Note
	if note == "" {
		note = c.phrases.VisionNote
	}
	analysis, err := c.advisor.AnalyzeImage(ctx, req.ImageBase64, req.MIMEType, note)
	if err != nil {
		c.log.WithError(err).WithField("session_id", sessionID).Error("image analysis failed")
		return res, fmt.Errorf("diagnose: %w", err)
	}
	reply := c.message(models.RoleAssistant, analysis.Analysis, "")
	c.store.AddMessage(sessionID, reply, creds)
	res.Reply = &reply
	res.Analysis = analysis
	return res, nil
}

func (c *Consultant) reply(ctx context.Context, history []models.ChatMessage, text string) (*ai.Answer, error) {
	if c.advisor == nil {
		return nil, ai.ErrNotConfigured
	}
	return c.advisor.Reply(ctx, history, text)
}

// resolveSession picks the explicit id, then the current selection, and
// creates a session when neither names an existing one.
func (c *Consultant) resolveSession(ctx context.Context, creds auth.Credentials, sessionID string) string {
	if sessionID == "" {
		sessionID = c.store.CurrentSessionID()
	}
	if sessionID != "" {
		if _, ok := c.store.Session(sessionID); ok {
			return sessionID
		}
	}
	return c.store.CreateSession(ctx, creds)
}

func (c *Consultant) message(role models.Role, content, imageURL string) models.ChatMessage {
	return models.ChatMessage{
		ID:        c.newID(),
		Role:      role,
		Content:   content,
		ImageURL:  imageURL,
		CreatedAt: c.now().UTC(),
	}
}
