package chat

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// MessageMetadata is attached to assistant messages.
type MessageMetadata struct {
	FollowUpQuestions []string `json:"followUpQuestions"`
	SuggestionsCount  int      `json:"suggestionsCount"`
}

// Message persists individual turns of a session.
type Message struct {
	ID        string           `json:"id"`
	SessionID string           `json:"sessionId"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Metadata  *MessageMetadata `json:"metadata"`
	CreatedAt time.Time        `json:"createdAt"`
}

// MessageWithRecommendations is the history view of a message. Recommendations
// is only emitted for assistant messages.
type MessageWithRecommendations struct {
	Message
	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

// AssistantReply is returned after a successful exchange.
type AssistantReply struct {
	Message
	Recommendations   []Recommendation `json:"recommendations"`
	FollowUpQuestions []string         `json:"followUpQuestions"`
}
