package models

import "time"

// ChatSession groups an ordered list of messages.
type ChatSession struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	// Synced gates remote forwarding of appended messages.
	Synced bool `json:"synced"`
}

// Clone returns a deep copy safe to hand out of the store.
func (s *ChatSession) Clone() ChatSession {
	out := *s
	out.Messages = make([]ChatMessage, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}
