package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gamechat/backend/internal/model/chat"
)

// stepClock returns strictly increasing timestamps.
type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newStepClock() *stepClock {
	return &stepClock{cur: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore(WithClock(newStepClock().Now))
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(":memory:")
			require.NoError(t, err)
			s.now = newStepClock().Now
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStoreSessions(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			first, err := s.CreateSession(ctx, "first")
			require.NoError(t, err)
			assert.NotEmpty(t, first.ID)
			assert.Equal(t, first.CreatedAt, first.UpdatedAt)

			second, err := s.CreateSession(ctx, "second")
			require.NoError(t, err)

			sessions, err := s.ListSessions(ctx)
			require.NoError(t, err)
			require.Len(t, sessions, 2)
			assert.Equal(t, second.ID, sessions[0].ID)
			assert.Equal(t, first.ID, sessions[1].ID)

			// Touching the older session moves it to the top.
			updated, err := s.UpdateSession(ctx, first.ID, chat.SessionUpdate{})
			require.NoError(t, err)
			assert.Equal(t, "first", updated.Title)
			assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))
			assert.True(t, updated.UpdatedAt.After(first.UpdatedAt))

			sessions, err = s.ListSessions(ctx)
			require.NoError(t, err)
			assert.Equal(t, first.ID, sessions[0].ID)

			title := "Cozy farming sims"
			updated, err = s.UpdateSession(ctx, second.ID, chat.SessionUpdate{Title: &title})
			require.NoError(t, err)
			assert.Equal(t, title, updated.Title)

			got, err := s.GetSession(ctx, second.ID)
			require.NoError(t, err)
			assert.Equal(t, title, got.Title)
			assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
		})
	}
}

func TestStoreMissingIdentities(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, err := s.GetSession(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.UpdateSession(ctx, "missing", chat.SessionUpdate{})
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.GetMessage(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.CreateMessage(ctx, chat.Message{SessionID: "missing", Role: chat.RoleUser, Content: "hi"})
			assert.ErrorIs(t, err, ErrNotFound)

			deleted, err := s.DeleteSession(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, deleted)

			recs, err := s.ListRecommendations(ctx, "missing")
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

func TestStoreMessagesOrderedPerSession(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			a, err := s.CreateSession(ctx, "a")
			require.NoError(t, err)
			b, err := s.CreateSession(ctx, "b")
			require.NoError(t, err)

			contents := []string{"one", "two", "three"}
			for _, c := range contents {
				_, err := s.CreateMessage(ctx, chat.Message{SessionID: a.ID, Role: chat.RoleUser, Content: c})
				require.NoError(t, err)
				_, err = s.CreateMessage(ctx, chat.Message{SessionID: b.ID, Role: chat.RoleUser, Content: "other " + c})
				require.NoError(t, err)
			}

			messages, err := s.ListMessages(ctx, a.ID)
			require.NoError(t, err)
			require.Len(t, messages, len(contents))
			for i, m := range messages {
				assert.Equal(t, a.ID, m.SessionID)
				assert.Equal(t, contents[i], m.Content)
				assert.Nil(t, m.Metadata)
				if i > 0 {
					assert.False(t, m.CreatedAt.Before(messages[i-1].CreatedAt))
				}
			}

			count, err := s.CountMessages(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, 3, count)
		})
	}
}

func TestStoreRejectsInvalidRole(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			session, err := s.CreateSession(ctx, "roles")
			require.NoError(t, err)

			_, err = s.CreateMessage(ctx, chat.Message{SessionID: session.ID, Role: "system", Content: "x"})
			assert.ErrorIs(t, err, ErrInvalidRole)
		})
	}
}

func TestStoreRecommendationRoundTrip(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			session, err := s.CreateSession(ctx, "recs")
			require.NoError(t, err)
			assistant, err := s.CreateMessage(ctx, chat.Message{
				SessionID: session.ID,
				Role:      chat.RoleAssistant,
				Content:   "summary",
				Metadata:  &chat.MessageMetadata{FollowUpQuestions: []string{"PC or console?"}, SuggestionsCount: 1},
			})
			require.NoError(t, err)

			input := chat.Recommendation{
				MessageID:   assistant.ID,
				Title:       "Hades",
				Description: "Roguelike dungeon crawler.",
				Platform:    "PC",
				Genre:       "Roguelike",
				Rating:      "9/10",
				Price:       "$24.99",
				ImageURL:    "",
			}
			created, err := s.CreateRecommendation(ctx, input)
			require.NoError(t, err)
			assert.NotEmpty(t, created.ID)
			assert.False(t, created.CreatedAt.IsZero())

			recs, err := s.ListRecommendations(ctx, assistant.ID)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			got := recs[0]
			assert.Equal(t, created.ID, got.ID)
			assert.Equal(t, input.Title, got.Title)
			assert.Equal(t, input.Description, got.Description)
			assert.Equal(t, input.Platform, got.Platform)
			assert.Equal(t, input.Genre, got.Genre)
			assert.Equal(t, input.Rating, got.Rating)
			assert.Equal(t, input.Price, got.Price)
			assert.Equal(t, input.ImageURL, got.ImageURL)
			assert.True(t, created.CreatedAt.Equal(got.CreatedAt))

			stored, err := s.GetMessage(ctx, assistant.ID)
			require.NoError(t, err)
			require.NotNil(t, stored.Metadata)
			assert.Equal(t, []string{"PC or console?"}, stored.Metadata.FollowUpQuestions)
			assert.Equal(t, 1, stored.Metadata.SuggestionsCount)
		})
	}
}

func TestStoreAssistantTurn(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			session, err := s.CreateSession(ctx, "turns")
			require.NoError(t, err)

			message, recs, err := s.CreateAssistantTurn(ctx, chat.Message{
				SessionID: session.ID,
				Role:      chat.RoleAssistant,
				Content:   "Two picks.",
				Metadata:  &chat.MessageMetadata{FollowUpQuestions: []string{}, SuggestionsCount: 2},
			}, []chat.Recommendation{{Title: "Hades"}, {Title: "Celeste"}})
			require.NoError(t, err)
			assert.NotEmpty(t, message.ID)
			require.Len(t, recs, 2)
			for _, rec := range recs {
				assert.Equal(t, message.ID, rec.MessageID)
			}

			stored, err := s.ListRecommendations(ctx, message.ID)
			require.NoError(t, err)
			require.Len(t, stored, 2)
			assert.Equal(t, "Hades", stored[0].Title)
			assert.Equal(t, "Celeste", stored[1].Title)

			got, err := s.GetMessage(ctx, message.ID)
			require.NoError(t, err)
			require.NotNil(t, got.Metadata)
			assert.Equal(t, len(stored), got.Metadata.SuggestionsCount)

			empty, none, err := s.CreateAssistantTurn(ctx, chat.Message{
				SessionID: session.ID,
				Role:      chat.RoleAssistant,
				Content:   "Nothing fits.",
				Metadata:  &chat.MessageMetadata{SuggestionsCount: 0},
			}, nil)
			require.NoError(t, err)
			assert.NotNil(t, none)
			assert.Empty(t, none)
			assert.NotEmpty(t, empty.ID)
		})
	}
}

func TestStoreAssistantTurnStoresNothingOnError(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			session, err := s.CreateSession(ctx, "turns")
			require.NoError(t, err)

			_, _, err = s.CreateAssistantTurn(ctx, chat.Message{
				SessionID: session.ID,
				Role:      chat.RoleUser,
				Content:   "not an assistant",
			}, []chat.Recommendation{{Title: "Hades"}})
			assert.ErrorIs(t, err, ErrNotAssistant)

			_, _, err = s.CreateAssistantTurn(ctx, chat.Message{
				SessionID: "missing",
				Role:      chat.RoleAssistant,
				Content:   "orphan",
			}, []chat.Recommendation{{Title: "Hades"}})
			assert.ErrorIs(t, err, ErrNotFound)

			count, err := s.CountMessages(ctx, session.ID)
			require.NoError(t, err)
			assert.Zero(t, count)
			count, err = s.CountMessages(ctx, "missing")
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestStoreRecommendationOwnerRules(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			session, err := s.CreateSession(ctx, "owners")
			require.NoError(t, err)
			user, err := s.CreateMessage(ctx, chat.Message{SessionID: session.ID, Role: chat.RoleUser, Content: "hi"})
			require.NoError(t, err)

			_, err = s.CreateRecommendations(ctx, user.ID, []chat.Recommendation{{Title: "Celeste"}})
			assert.ErrorIs(t, err, ErrNotAssistant)

			_, err = s.CreateRecommendation(ctx, chat.Recommendation{MessageID: "missing", Title: "Celeste"})
			assert.ErrorIs(t, err, ErrNotFound)

			recs, err := s.ListRecommendations(ctx, user.ID)
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

func TestStoreBatchPreservesOrder(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			session, err := s.CreateSession(ctx, "batch")
			require.NoError(t, err)
			assistant, err := s.CreateMessage(ctx, chat.Message{SessionID: session.ID, Role: chat.RoleAssistant, Content: "ok"})
			require.NoError(t, err)

			titles := []string{"Stardew Valley", "Spiritfarer", "A Short Hike", "Unpacking"}
			batch := make([]chat.Recommendation, 0, len(titles))
			for _, title := range titles {
				batch = append(batch, chat.Recommendation{Title: title})
			}
			created, err := s.CreateRecommendations(ctx, assistant.ID, batch)
			require.NoError(t, err)
			require.Len(t, created, len(titles))

			recs, err := s.ListRecommendations(ctx, assistant.ID)
			require.NoError(t, err)
			require.Len(t, recs, len(titles))
			for i, rec := range recs {
				assert.Equal(t, titles[i], rec.Title)
				assert.Equal(t, assistant.ID, rec.MessageID)
			}
		})
	}
}

func TestStoreDeleteCascades(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			session, err := s.CreateSession(ctx, "doomed")
			require.NoError(t, err)
			assistant, err := s.CreateMessage(ctx, chat.Message{SessionID: session.ID, Role: chat.RoleAssistant, Content: "ok"})
			require.NoError(t, err)
			_, err = s.CreateRecommendations(ctx, assistant.ID, []chat.Recommendation{{Title: "Portal 2"}})
			require.NoError(t, err)

			deleted, err := s.DeleteSession(ctx, session.ID)
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = s.DeleteSession(ctx, session.ID)
			require.NoError(t, err)
			assert.False(t, deleted)

			_, err = s.GetMessage(ctx, assistant.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			messages, err := s.ListMessages(ctx, session.ID)
			require.NoError(t, err)
			assert.Empty(t, messages)
			recs, err := s.ListRecommendations(ctx, assistant.ID)
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	s, err := Open("", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open("sqlite", ":memory:")
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open("postgres", "")
	assert.Error(t, err)
}
