package model

import "time"

// Notification is created when a message mentions a user who has a profile.
// ChatID is denormalized for fast lookup. IsRead only ever goes false -> true.
type Notification struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
