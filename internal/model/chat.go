package model

import "time"

// Chat is a room owned by exactly one user. The owner never changes and a
// user owns at most one chat (enforced by a unique index on owner_id).
type Chat struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
