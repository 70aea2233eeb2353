package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexuscore/agentcore/pkg/models"
)

// SQLStore implements Store against a SQLite-dialect *sql.DB, so sessions
// survive a process restart without standing up Postgres the way
// internal/jobs.PostgresStore does for cron execution state. It accepts
// any database/sql driver registered under a SQLite-compatible name;
// NewSQLiteStore opens one with either "sqlite3" (github.com/mattn/go-sqlite3,
// cgo) or "sqlite" (modernc.org/sqlite, pure Go), matching
// internal/sessions/tool_events.go's SQLToolEventStore in staying
// driver-agnostic rather than importing a driver package directly.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an already-open *sql.DB. Callers that want a ready-made
// SQLite connection should use NewSQLiteStore instead.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	s := &SQLStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("sessions: migrate: %w", err)
	}
	return s, nil
}

// NewSQLiteStore opens dsn with driverName ("sqlite3" for
// github.com/mattn/go-sqlite3, "sqlite" for modernc.org/sqlite) and runs
// its migration. Both drivers are blank-imported by cmd/agentcore so their
// init() registers the driver name with database/sql before this runs.
func NewSQLiteStore(driverName, dsn string) (*SQLStore, error) {
	if driverName == "" {
		return nil, errors.New("driver name is required")
	}
	if dsn == "" {
		return nil, errors.New("dsn is required")
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sessions: open %s database: %w", driverName, err)
	}
	// SQLite only tolerates one writer at a time; serialize through a
	// single connection rather than surface "database is locked" errors.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessions: ping database: %w", err)
	}

	store, err := NewSQLStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// DB exposes the underlying connection so a DBLocker or SQLToolEventStore
// can share the same database file.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close closes the underlying connection.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL DEFAULT '',
			key TEXT NOT NULL UNIQUE,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS session_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_calls TEXT NOT NULL DEFAULT '[]',
			tool_call_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_messages_session_id ON session_messages(session_id, seq);
	`)
	return err
}

func (s *SQLStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = session.CreatedAt

	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("sessions: encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, agent_id, channel_id, key, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session.ID, session.AgentID, session.ChannelID, session.Key, string(metadata), session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sessions: insert session: %w", err)
	}
	return s.replaceMessages(ctx, session.ID, session.Messages)
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.scanSession(ctx, `SELECT id, agent_id, channel_id, key, metadata, created_at, updated_at FROM sessions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SQLStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	return s.scanSession(ctx, `SELECT id, agent_id, channel_id, key, metadata, created_at, updated_at FROM sessions WHERE key = ?`, key)
}

func (s *SQLStore) scanSession(ctx context.Context, query string, arg string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, query, arg)

	var (
		session  models.Session
		metadata string
	)
	if err := row.Scan(&session.ID, &session.AgentID, &session.ChannelID, &session.Key, &metadata, &session.CreatedAt, &session.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("session not found")
		}
		return nil, fmt.Errorf("sessions: scan session: %w", err)
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &session.Metadata); err != nil {
			return nil, fmt.Errorf("sessions: decode metadata: %w", err)
		}
	}

	messages, err := s.loadMessages(ctx, session.ID, 0)
	if err != nil {
		return nil, err
	}
	session.Messages = messages
	return &session, nil
}

func (s *SQLStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("sessions: encode metadata: %w", err)
	}
	session.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET agent_id = ?, channel_id = ?, key = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, session.AgentID, session.ChannelID, session.Key, string(metadata), session.UpdatedAt, session.ID)
	if err != nil {
		return fmt.Errorf("sessions: update session: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return errors.New("session not found")
	}

	if len(session.Messages) > maxMessagesPerSession {
		session.Messages = session.Messages[len(session.Messages)-maxMessagesPerSession:]
	}
	return s.replaceMessages(ctx, session.ID, session.Messages)
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sessions: delete session: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return errors.New("session not found")
	}
	return nil
}

func (s *SQLStore) GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error) {
	existing, err := s.GetByKey(ctx, key)
	if err == nil {
		return existing, nil
	}

	session := &models.Session{
		AgentID:   agentID,
		ChannelID: channelID,
		Key:       key,
	}
	if err := s.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SQLStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT id, agent_id, channel_id, key, metadata, created_at, updated_at FROM sessions`
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sessions: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var (
			session  models.Session
			metadata string
		)
		if err := rows.Scan(&session.ID, &session.AgentID, &session.ChannelID, &session.Key, &metadata, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sessions: scan session: %w", err)
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &session.Metadata); err != nil {
				return nil, fmt.Errorf("sessions: decode metadata: %w", err)
			}
		}
		out = append(out, &session)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendMessage(ctx context.Context, sessionID string, msg models.ChatMessage) error {
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("sessions: encode tool calls: %w", err)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_messages (session_id, role, content, tool_calls, tool_call_id, name, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sessionID, string(msg.Role), msg.Content, string(toolCalls), msg.ToolCallID, msg.Name, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("sessions: append message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now(), sessionID); err != nil {
		return fmt.Errorf("sessions: touch session: %w", err)
	}
	return s.trimMessages(ctx, sessionID)
}

func (s *SQLStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	return s.loadMessages(ctx, sessionID, limit)
}

func (s *SQLStore) loadMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	query := `SELECT role, content, tool_calls, tool_call_id, name, timestamp FROM session_messages WHERE session_id = ? ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessions: load messages: %w", err)
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var (
			msg       models.ChatMessage
			role      string
			toolCalls string
		)
		if err := rows.Scan(&role, &msg.Content, &toolCalls, &msg.ToolCallID, &msg.Name, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("sessions: scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if toolCalls != "" && toolCalls != "[]" {
			if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("sessions: decode tool calls: %w", err)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// replaceMessages overwrites a session's message history atomically,
// used by Create (seeding an initial history) and Update (the tool loop
// persists its full in-memory Session.Messages back via Update rather
// than appending turn-by-turn).
func (s *SQLStore) replaceMessages(ctx context.Context, sessionID string, messages []models.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessions: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sessions: clear messages: %w", err)
	}
	for _, msg := range messages {
		toolCalls, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("sessions: encode tool calls: %w", err)
		}
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_messages (session_id, role, content, tool_calls, tool_call_id, name, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sessionID, string(msg.Role), msg.Content, string(toolCalls), msg.ToolCallID, msg.Name, ts); err != nil {
			return fmt.Errorf("sessions: insert message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) trimMessages(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM session_messages
		WHERE session_id = ? AND seq NOT IN (
			SELECT seq FROM session_messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		)
	`, sessionID, sessionID, maxMessagesPerSession)
	return err
}
