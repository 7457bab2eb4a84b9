package chat

import "time"

// Recommendation is a single game suggestion owned by an assistant message.
// Rating and Price are free text as produced by the model.
type Recommendation struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"messageId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Platform    string    `json:"platform"`
	Genre       string    `json:"genre"`
	Rating      string    `json:"rating"`
	Price       string    `json:"price"`
	ImageURL    string    `json:"imageUrl"`
	CreatedAt   time.Time `json:"createdAt"`
}
