package chat

import "time"

// DefaultSessionTitle is used when a session is created without a title.
const DefaultSessionTitle = "New Chat"

// Session captures one recommendation conversation thread.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionUpdate is a partial update; nil fields are left untouched.
// UpdatedAt is always refreshed, even for an empty update.
type SessionUpdate struct {
	Title *string
}
