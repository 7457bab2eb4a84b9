// Package store persists sessions, messages and recommendations.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/gamechat/backend/internal/model/chat"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidRole  = errors.New("invalid message role")
	ErrNotAssistant = errors.New("recommendations must belong to an assistant message")
)

// Store is the persistence contract used by the chat service. Lookups of a
// missing identity return ErrNotFound; DeleteSession reports a missing
// session with false instead of an error.
type Store interface {
	GetSession(ctx context.Context, id string) (chat.Session, error)
	ListSessions(ctx context.Context) ([]chat.Session, error)
	CreateSession(ctx context.Context, title string) (chat.Session, error)
	UpdateSession(ctx context.Context, id string, update chat.SessionUpdate) (chat.Session, error)
	DeleteSession(ctx context.Context, id string) (bool, error)

	GetMessage(ctx context.Context, id string) (chat.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)
	CreateMessage(ctx context.Context, message chat.Message) (chat.Message, error)

	ListRecommendations(ctx context.Context, messageID string) ([]chat.Recommendation, error)
	CreateRecommendation(ctx context.Context, rec chat.Recommendation) (chat.Recommendation, error)
	// CreateRecommendations stores recs for messageID in order. Either all
	// of them are stored or none are.
	CreateRecommendations(ctx context.Context, messageID string, recs []chat.Recommendation) ([]chat.Recommendation, error)
	// CreateAssistantTurn stores an assistant message together with its
	// recommendations. On error neither is stored.
	CreateAssistantTurn(ctx context.Context, message chat.Message, recs []chat.Recommendation) (chat.Message, []chat.Recommendation, error)

	Close() error
}

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Open builds the backend named by driver.
func Open(driver, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		if strings.TrimSpace(dsn) == "" {
			dsn = "gamechat.db"
		}
		return NewSQLiteStore(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
