package models

import "time"

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry of a chat session. ImageURL is only set on user
// messages that carry an uploaded photo.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Diagnosis is one candidate plant disease reported by photo analysis.
type Diagnosis struct {
	Name            string   `json:"name"`
	Probability     int      `json:"probability"`
	Description     string   `json:"description"`
	Recommendations []string `json:"recommendations"`
}
