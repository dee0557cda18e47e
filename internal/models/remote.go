package models

import (
	"fmt"
	"strings"
	"time"
)

// RemoteMessage is the backend's message shape.
type RemoteMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	ImageURL  string `json:"image_url,omitempty"`
	CreatedAt string `json:"created_at"`
}

// RemoteSession is the backend's session shape returned by /chat/sessions.
type RemoteSession struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Title     string          `json:"title"`
	Messages  []RemoteMessage `json:"messages"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// the backend emits naive UTC timestamps without an offset
var wireLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// ParseWireTime parses a backend timestamp, treating zone-less values as UTC.
func ParseWireTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range wireLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// FormatWireTime renders t the way the backend stores it.
func FormatWireTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NewRemoteMessage converts a local message for upload.
func NewRemoteMessage(m ChatMessage) RemoteMessage {
	return RemoteMessage{
		ID:        m.ID,
		Role:      string(m.Role),
		Content:   m.Content,
		ImageURL:  m.ImageURL,
		CreatedAt: FormatWireTime(m.CreatedAt),
	}
}

// Local maps a remote message into the local model. Unparseable timestamps
// become the zero time rather than failing the whole session.
func (m RemoteMessage) Local() ChatMessage {
	created, _ := ParseWireTime(m.CreatedAt)
	return ChatMessage{
		ID:        m.ID,
		Role:      Role(m.Role),
		Content:   m.Content,
		ImageURL:  m.ImageURL,
		CreatedAt: created,
	}
}

// Local maps a remote session into a synced local session.
func (s RemoteSession) Local() ChatSession {
	created, _ := ParseWireTime(s.CreatedAt)
	updated, _ := ParseWireTime(s.UpdatedAt)
	msgs := make([]ChatMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		msgs = append(msgs, m.Local())
	}
	return ChatSession{
		ID:        s.ID,
		Title:     s.Title,
		Messages:  msgs,
		CreatedAt: created,
		UpdatedAt: updated,
		Synced:    true,
	}
}
