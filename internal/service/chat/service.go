package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/gamechat/backend/internal/logging"
	"github.com/zhouzirui/gamechat/backend/internal/metrics"
	chatmodel "github.com/zhouzirui/gamechat/backend/internal/model/chat"
	"github.com/zhouzirui/gamechat/backend/internal/service/ai"
	"github.com/zhouzirui/gamechat/backend/internal/service/events"
	"github.com/zhouzirui/gamechat/backend/internal/store"
)

// DefaultHistoryLimit is the number of most recent messages sent to the model.
const DefaultHistoryLimit = 10

var ErrSessionNotFound = errors.New("session not found")

// ValidationError reports unusable client input. Nothing is persisted when
// it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Option customises a Service.
type Option func(*Service)

// WithHistoryLimit overrides DefaultHistoryLimit. Non-positive values are
// ignored.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// Service orchestrates a chat exchange across the store and the model.
type Service struct {
	store        store.Store
	ai           ai.Recommender
	events       events.Publisher
	historyLimit int
	locks        *sessionLocks
}

// NewService wires the orchestration layer. A nil publisher disables events.
func NewService(st store.Store, recommender ai.Recommender, publisher events.Publisher, opts ...Option) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	s := &Service{
		store:        st,
		ai:           recommender,
		events:       publisher,
		historyLimit: DefaultHistoryLimit,
		locks:        newSessionLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListSessions returns every session, most recently updated first.
func (s *Service) ListSessions(ctx context.Context) ([]chatmodel.Session, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []chatmodel.Session{}
	}
	return sessions, nil
}

// CreateSession stores a new session. A blank title becomes
// chatmodel.DefaultSessionTitle.
func (s *Service) CreateSession(ctx context.Context, title string) (chatmodel.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = chatmodel.DefaultSessionTitle
	}

	session, err := s.store.CreateSession(ctx, title)
	if err != nil {
		return chatmodel.Session{}, fmt.Errorf("create session: %w", err)
	}
	metrics.EntitiesCreated.WithLabelValues("session").Inc()
	logging.Ctx(ctx).Info().Str("session", session.ID).Msg("session created")

	s.events.Publish(events.Event{Type: events.EventSessionCreated, SessionID: session.ID, Session: &session})
	return session, nil
}

// DeleteSession removes a session with its messages and recommendations.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	deleted, err := s.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !deleted {
		return ErrSessionNotFound
	}
	logging.Ctx(ctx).Info().Str("session", sessionID).Msg("session deleted")

	s.events.Publish(events.Event{Type: events.EventSessionDeleted, SessionID: sessionID})
	return nil
}

// ListMessages returns the session history oldest first. Assistant messages
// carry their recommendations. An unknown session has an empty history.
func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]chatmodel.MessageWithRecommendations, error) {
	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	result := make([]chatmodel.MessageWithRecommendations, 0, len(messages))
	for _, message := range messages {
		item := chatmodel.MessageWithRecommendations{Message: message}
		if message.Role == chatmodel.RoleAssistant {
			recs, err := s.store.ListRecommendations(ctx, message.ID)
			if err != nil {
				return nil, fmt.Errorf("list recommendations: %w", err)
			}
			if recs == nil {
				recs = []chatmodel.Recommendation{}
			}
			item.Recommendations = recs
		}
		result = append(result, item)
	}
	return result, nil
}

// SendMessage records the user's message, asks the model for suggestions and
// stores the assistant reply with its recommendations. The first exchange of
// a session also names the session.
//
// When the model fails the user message stays persisted and the
// *ai.AIRequestError is returned. Sends to the same session are serialized.
func (s *Service) SendMessage(ctx context.Context, sessionID, content string) (*chatmodel.AssistantReply, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &ValidationError{Field: "content", Message: "Message content is required"}
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}

	prior, err := s.store.CountMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	firstExchange := prior == 0

	userMessage, err := s.store.CreateMessage(ctx, chatmodel.Message{
		SessionID: sessionID,
		Role:      chatmodel.RoleUser,
		Content:   content,
	})
	if err != nil {
		return nil, s.storeError("create user message", err)
	}
	metrics.EntitiesCreated.WithLabelValues("message").Inc()
	s.publishMessage(chatmodel.MessageWithRecommendations{Message: userMessage})

	history, err := s.history(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := s.ai.GetSuggestions(ctx, content, history)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("session", sessionID).Msg("suggestions failed, keeping user message only")
		return nil, err
	}

	followUps := result.FollowUpQuestions
	if followUps == nil {
		followUps = []string{}
	}
	assistantMessage, recs, err := s.store.CreateAssistantTurn(ctx, chatmodel.Message{
		SessionID: sessionID,
		Role:      chatmodel.RoleAssistant,
		Content:   result.Summary,
		Metadata: &chatmodel.MessageMetadata{
			FollowUpQuestions: followUps,
			SuggestionsCount:  len(result.Suggestions),
		},
	}, toRecommendations(result.Suggestions))
	if err != nil {
		return nil, s.storeError("store assistant reply", err)
	}
	if recs == nil {
		recs = []chatmodel.Recommendation{}
	}
	metrics.EntitiesCreated.WithLabelValues("message").Inc()
	metrics.EntitiesCreated.WithLabelValues("recommendation").Add(float64(len(recs)))
	s.publishMessage(chatmodel.MessageWithRecommendations{Message: assistantMessage, Recommendations: recs})

	update := chatmodel.SessionUpdate{}
	if firstExchange {
		title := s.title(ctx, content)
		update.Title = &title
	}
	session, err := s.store.UpdateSession(ctx, sessionID, update)
	if err != nil {
		return nil, s.storeError("update session", err)
	}
	s.events.Publish(events.Event{Type: events.EventSessionUpdated, SessionID: sessionID, Session: &session})

	logging.Ctx(ctx).Info().
		Str("session", sessionID).
		Int("recommendations", len(recs)).
		Bool("first_exchange", firstExchange).
		Dur("duration", time.Since(started)).
		Msg("assistant reply stored")

	return &chatmodel.AssistantReply{
		Message:           assistantMessage,
		Recommendations:   recs,
		FollowUpQuestions: followUps,
	}, nil
}

// history returns the last historyLimit messages, oldest first. It includes
// the message that was just stored.
func (s *Service) history(ctx context.Context, sessionID string) ([]ai.Turn, error) {
	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(messages) > s.historyLimit {
		messages = messages[len(messages)-s.historyLimit:]
	}

	turns := make([]ai.Turn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, ai.Turn{Role: m.Role, Content: m.Content})
	}
	return turns, nil
}

func (s *Service) title(ctx context.Context, firstMessage string) string {
	generated, err := s.ai.GenerateTitle(ctx, firstMessage)
	title := ai.TitleOrFallback(generated, err)
	if err != nil || strings.TrimSpace(generated) == "" {
		metrics.TitleFallbacks.Inc()
		logging.Ctx(ctx).Warn().Err(err).Msg("title generation failed, using fallback")
	}
	return title
}

func (s *Service) getSession(ctx context.Context, sessionID string) (chatmodel.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return chatmodel.Session{}, s.storeError("get session", err)
	}
	return session, nil
}

func (s *Service) storeError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) publishMessage(message chatmodel.MessageWithRecommendations) {
	s.events.Publish(events.Event{
		Type:      events.EventMessageCreated,
		SessionID: message.SessionID,
		Message:   &message,
	})
}

func toRecommendations(suggestions []ai.Suggestion) []chatmodel.Recommendation {
	recs := make([]chatmodel.Recommendation, 0, len(suggestions))
	for _, s := range suggestions {
		recs = append(recs, chatmodel.Recommendation{
			Title:       s.Title,
			Description: s.Description,
			Platform:    s.Platform,
			Genre:       s.Genre,
			Rating:      s.Rating,
			Price:       s.Price,
			ImageURL:    s.ImageURL,
		})
	}
	return recs
}
