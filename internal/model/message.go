package model

import "time"

// Message is immutable once created: no edit or delete operations exist.
// Seq is assigned by the database and breaks ties between equal timestamps,
// so (CreatedAt, Seq) is the total order for replay and display.
type Message struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"-"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`

	// Filled by list queries for display.
	Sender     string   `json:"sender,omitempty"`
	SenderType Role     `json:"sender_type,omitempty"`
	Mentions   []string `json:"mentions,omitempty"`
}
