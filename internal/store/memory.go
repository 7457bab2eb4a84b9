package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/gamechat/backend/internal/model/chat"
)

// MemoryStore keeps everything in process memory. Data lives as long as the
// process does.
type MemoryStore struct {
	mu sync.RWMutex

	sessions map[string]chat.Session
	// message ids per session, in insertion order
	sessionMessages map[string][]string
	messages        map[string]chat.Message
	recommendations map[string][]chat.Recommendation

	now func() time.Time
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions:        make(map[string]chat.Session),
		sessionMessages: make(map[string][]string),
		messages:        make(map[string]chat.Message),
		recommendations: make(map[string][]chat.Recommendation),
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

// GetSession retrieves a session by identifier.
func (s *MemoryStore) GetSession(_ context.Context, id string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, ErrNotFound
	}
	return session, nil
}

// ListSessions returns sessions, most recently updated first.
func (s *MemoryStore) ListSessions(_ context.Context) ([]chat.Session, error) {
	s.mu.RLock()
	sessions := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return sessions, nil
}

// CreateSession provisions a new session.
func (s *MemoryStore) CreateSession(_ context.Context, title string) (chat.Session, error) {
	now := s.now()
	session := chat.Session{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.sessionMessages[session.ID] = make([]string, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// UpdateSession merges update into the stored session and refreshes UpdatedAt.
func (s *MemoryStore) UpdateSession(_ context.Context, id string, update chat.SessionUpdate) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, ErrNotFound
	}

	if update.Title != nil {
		session.Title = *update.Title
	}
	session.UpdatedAt = s.now()
	if session.UpdatedAt.Before(session.CreatedAt) {
		session.UpdatedAt = session.CreatedAt
	}

	s.sessions[id] = session
	return session, nil
}

// DeleteSession removes a session together with its messages and their
// recommendations.
func (s *MemoryStore) DeleteSession(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}

	for _, messageID := range s.sessionMessages[id] {
		delete(s.recommendations, messageID)
		delete(s.messages, messageID)
	}
	delete(s.sessionMessages, id)
	delete(s.sessions, id)
	return true, nil
}

// GetMessage retrieves a message by identifier.
func (s *MemoryStore) GetMessage(_ context.Context, id string) (chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	message, ok := s.messages[id]
	if !ok {
		return chat.Message{}, ErrNotFound
	}
	return copyMessage(message), nil
}

// ListMessages returns the messages of a session, oldest first.
func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	ids := s.sessionMessages[sessionID]
	messages := make([]chat.Message, 0, len(ids))
	for _, id := range ids {
		messages = append(messages, copyMessage(s.messages[id]))
	}
	s.mu.RUnlock()

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// CountMessages returns how many messages a session holds.
func (s *MemoryStore) CountMessages(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessionMessages[sessionID]), nil
}

// CreateMessage appends a message to the session history.
func (s *MemoryStore) CreateMessage(_ context.Context, message chat.Message) (chat.Message, error) {
	if !message.Role.Valid() {
		return chat.Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, message.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[message.SessionID]; !ok {
		return chat.Message{}, fmt.Errorf("session %s: %w", message.SessionID, ErrNotFound)
	}
	return copyMessage(s.appendMessageLocked(message)), nil
}

// CreateAssistantTurn stores an assistant message and its recommendations
// under a single lock.
func (s *MemoryStore) CreateAssistantTurn(_ context.Context, message chat.Message, recs []chat.Recommendation) (chat.Message, []chat.Recommendation, error) {
	if message.Role != chat.RoleAssistant {
		return chat.Message{}, nil, fmt.Errorf("role %q: %w", message.Role, ErrNotAssistant)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[message.SessionID]; !ok {
		return chat.Message{}, nil, fmt.Errorf("session %s: %w", message.SessionID, ErrNotFound)
	}
	stored := s.appendMessageLocked(message)
	created := s.appendRecommendationsLocked(stored.ID, recs)
	return copyMessage(stored), created, nil
}

func (s *MemoryStore) appendMessageLocked(message chat.Message) chat.Message {
	message = copyMessage(message)
	message.ID = uuid.NewString()
	message.CreatedAt = s.now()

	s.messages[message.ID] = message
	s.sessionMessages[message.SessionID] = append(s.sessionMessages[message.SessionID], message.ID)
	return message
}

// ListRecommendations returns the recommendations of a message, oldest first.
func (s *MemoryStore) ListRecommendations(_ context.Context, messageID string) ([]chat.Recommendation, error) {
	s.mu.RLock()
	recs := append([]chat.Recommendation(nil), s.recommendations[messageID]...)
	s.mu.RUnlock()

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	if recs == nil {
		recs = []chat.Recommendation{}
	}
	return recs, nil
}

// CreateRecommendation stores a single recommendation.
func (s *MemoryStore) CreateRecommendation(ctx context.Context, rec chat.Recommendation) (chat.Recommendation, error) {
	created, err := s.CreateRecommendations(ctx, rec.MessageID, []chat.Recommendation{rec})
	if err != nil {
		return chat.Recommendation{}, err
	}
	return created[0], nil
}

// CreateRecommendations stores recs under messageID. The owner is checked
// before anything is written, so the batch never lands partially.
func (s *MemoryStore) CreateRecommendations(_ context.Context, messageID string, recs []chat.Recommendation) ([]chat.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwnerLocked(messageID); err != nil {
		return nil, err
	}

	return s.appendRecommendationsLocked(messageID, recs), nil
}

func (s *MemoryStore) appendRecommendationsLocked(messageID string, recs []chat.Recommendation) []chat.Recommendation {
	now := s.now()
	created := make([]chat.Recommendation, 0, len(recs))
	for _, rec := range recs {
		rec.ID = uuid.NewString()
		rec.MessageID = messageID
		rec.CreatedAt = now
		created = append(created, rec)
	}

	s.recommendations[messageID] = append(s.recommendations[messageID], created...)
	return append([]chat.Recommendation{}, created...)
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) checkOwnerLocked(messageID string) error {
	owner, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if owner.Role != chat.RoleAssistant {
		return fmt.Errorf("message %s: %w", messageID, ErrNotAssistant)
	}
	return nil
}

func copyMessage(message chat.Message) chat.Message {
	if message.Metadata != nil {
		meta := *message.Metadata
		meta.FollowUpQuestions = append(make([]string, 0, len(meta.FollowUpQuestions)), meta.FollowUpQuestions...)
		message.Metadata = &meta
	}
	return message
}
