package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/zhouzirui/gamechat/backend/internal/model/chat"
)

// SQLiteStore implements Store on top of SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and migrates) the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withForeignKeys(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to an in-memory database gets its own empty database.
	if strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
			content TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS game_recommendations (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			platform TEXT NOT NULL,
			genre TEXT NOT NULL,
			rating TEXT,
			price TEXT,
			image_url TEXT,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (message_id) REFERENCES chat_messages(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_recommendations_message ON game_recommendations(message_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetSession retrieves a session by identifier.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM chat_sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrNotFound
	}
	return session, err
}

// ListSessions returns sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at FROM chat_sessions
		ORDER BY updated_at DESC, created_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []chat.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// CreateSession provisions a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, title string) (chat.Session, error) {
	now := s.now()
	session := chat.Session{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.Title, toUnix(session.CreatedAt), toUnix(session.UpdatedAt))
	if err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// UpdateSession merges update into the stored session and refreshes UpdatedAt.
func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, update chat.SessionUpdate) (chat.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Session{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM chat_sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, err
	}

	if update.Title != nil {
		session.Title = *update.Title
	}
	session.UpdatedAt = s.now()
	if session.UpdatedAt.Before(session.CreatedAt) {
		session.UpdatedAt = session.CreatedAt
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET title = ?, updated_at = ? WHERE id = ?`,
		session.Title, toUnix(session.UpdatedAt), id); err != nil {
		return chat.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// DeleteSession removes a session with its messages and recommendations.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM game_recommendations
		WHERE message_id IN (SELECT id FROM chat_messages WHERE session_id = ?)`, id); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, id); err != nil {
		return false, err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetMessage retrieves a message by identifier.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, role, content, metadata, created_at
		FROM chat_messages WHERE id = ?`, id)
	message, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, ErrNotFound
	}
	return message, err
}

// ListMessages returns the messages of a session, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, metadata, created_at
		FROM chat_messages WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []chat.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

// CountMessages returns how many messages a session holds.
func (s *SQLiteStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}

// CreateMessage stores a message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	return s.insertMessage(ctx, s.db, message)
}

// CreateAssistantTurn stores an assistant message and its recommendations in
// one transaction.
func (s *SQLiteStore) CreateAssistantTurn(ctx context.Context, message chat.Message, recs []chat.Recommendation) (chat.Message, []chat.Recommendation, error) {
	if message.Role != chat.RoleAssistant {
		return chat.Message{}, nil, fmt.Errorf("role %q: %w", message.Role, ErrNotAssistant)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, nil, err
	}
	defer tx.Rollback()

	created, err := s.insertMessage(ctx, tx, message)
	if err != nil {
		return chat.Message{}, nil, err
	}
	stored, err := s.insertRecommendations(ctx, tx, created.ID, recs)
	if err != nil {
		return chat.Message{}, nil, err
	}

	if err := tx.Commit(); err != nil {
		return chat.Message{}, nil, err
	}
	return created, stored, nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) insertMessage(ctx context.Context, q dbtx, message chat.Message) (chat.Message, error) {
	if !message.Role.Valid() {
		return chat.Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, message.Role)
	}

	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM chat_sessions WHERE id = ?`, message.SessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, fmt.Errorf("session %s: %w", message.SessionID, ErrNotFound)
	}
	if err != nil {
		return chat.Message{}, err
	}

	var metadata sql.NullString
	if message.Metadata != nil {
		raw, err := json.Marshal(message.Metadata)
		if err != nil {
			return chat.Message{}, fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	message.ID = uuid.NewString()
	message.CreatedAt = s.now()

	_, err = q.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		message.ID, message.SessionID, string(message.Role), message.Content, metadata, toUnix(message.CreatedAt))
	if err != nil {
		return chat.Message{}, err
	}
	return message, nil
}

// ListRecommendations returns the recommendations of a message, oldest first.
func (s *SQLiteStore) ListRecommendations(ctx context.Context, messageID string) ([]chat.Recommendation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, title, description, platform, genre, rating, price, image_url, created_at
		FROM game_recommendations WHERE message_id = ?
		ORDER BY created_at ASC, rowid ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []chat.Recommendation{}
	for rows.Next() {
		var (
			rec                     chat.Recommendation
			rating, price, imageURL sql.NullString
			createdAt               int64
		)
		if err := rows.Scan(&rec.ID, &rec.MessageID, &rec.Title, &rec.Description, &rec.Platform,
			&rec.Genre, &rating, &price, &imageURL, &createdAt); err != nil {
			return nil, err
		}
		rec.Rating = rating.String
		rec.Price = price.String
		rec.ImageURL = imageURL.String
		rec.CreatedAt = fromUnix(createdAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CreateRecommendation stores a single recommendation.
func (s *SQLiteStore) CreateRecommendation(ctx context.Context, rec chat.Recommendation) (chat.Recommendation, error) {
	created, err := s.CreateRecommendations(ctx, rec.MessageID, []chat.Recommendation{rec})
	if err != nil {
		return chat.Recommendation{}, err
	}
	return created[0], nil
}

// CreateRecommendations stores recs under messageID in one transaction.
func (s *SQLiteStore) CreateRecommendations(ctx context.Context, messageID string, recs []chat.Recommendation) ([]chat.Recommendation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var role string
	err = tx.QueryRowContext(ctx, `SELECT role FROM chat_messages WHERE id = ?`, messageID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if chat.Role(role) != chat.RoleAssistant {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotAssistant)
	}

	created, err := s.insertRecommendations(ctx, tx, messageID, recs)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *SQLiteStore) insertRecommendations(ctx context.Context, tx *sql.Tx, messageID string, recs []chat.Recommendation) ([]chat.Recommendation, error) {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO game_recommendations
			(id, message_id, title, description, platform, genre, rating, price, image_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	now := s.now()
	created := make([]chat.Recommendation, 0, len(recs))
	for _, rec := range recs {
		rec.ID = uuid.NewString()
		rec.MessageID = messageID
		rec.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.MessageID, rec.Title, rec.Description, rec.Platform,
			rec.Genre, rec.Rating, rec.Price, rec.ImageURL, toUnix(rec.CreatedAt)); err != nil {
			return nil, fmt.Errorf("insert recommendation %q: %w", rec.Title, err)
		}
		created = append(created, rec)
	}
	return created, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (chat.Session, error) {
	var (
		session              chat.Session
		createdAt, updatedAt int64
	)
	if err := row.Scan(&session.ID, &session.Title, &createdAt, &updatedAt); err != nil {
		return chat.Session{}, err
	}
	session.CreatedAt = fromUnix(createdAt)
	session.UpdatedAt = fromUnix(updatedAt)
	return session, nil
}

func scanMessage(row rowScanner) (chat.Message, error) {
	var (
		message   chat.Message
		role      string
		metadata  sql.NullString
		createdAt int64
	)
	if err := row.Scan(&message.ID, &message.SessionID, &role, &message.Content, &metadata, &createdAt); err != nil {
		return chat.Message{}, err
	}
	message.Role = chat.Role(role)
	message.CreatedAt = fromUnix(createdAt)
	if metadata.Valid && metadata.String != "" {
		var meta chat.MessageMetadata
		if err := json.Unmarshal([]byte(metadata.String), &meta); err != nil {
			return chat.Message{}, fmt.Errorf("decode metadata of message %s: %w", message.ID, err)
		}
		if meta.FollowUpQuestions == nil {
			meta.FollowUpQuestions = []string{}
		}
		message.Metadata = &meta
	}
	return message, nil
}

// Timestamps are stored as unix nanoseconds to keep ordering exact.
func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(v int64) time.Time {
	return time.Unix(0, v).UTC()
}
