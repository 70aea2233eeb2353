package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexuscore/agentcore/pkg/models"
)

// recordTypeMetadata/recordTypeMessage tag the two line shapes in a
// session's append record-stream file: the first line is
// always a metadata record, every following line a message record.
const (
	recordTypeMetadata = "metadata"
	recordTypeMessage  = "message"
)

// fileRecord is the tagged-variant on-disk shape for one line of a
// session file. Only the fields relevant to Type are populated.
type fileRecord struct {
	Type string `json:"_type"`

	// Metadata record fields.
	ID        string         `json:"id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	Key       string         `json:"key,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Message record fields (mirrors models.ChatMessage).
	Role       models.Role       `json:"role,omitempty"`
	Content    string            `json:"content,omitempty"`
	Timestamp  time.Time         `json:"timestamp,omitempty"`
	ToolCalls  []models.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
}

// FileStore persists sessions as one append record-stream file per
// session key under dataDir.
// An in-memory index mirrors disk state so Get/List/GetOrCreate don't
// need to rescan the directory on every call; every mutation is written
// through to disk before the in-memory copy is updated.
type FileStore struct {
	dataDir string

	mu       sync.RWMutex
	sessions map[string]*models.Session // by ID
	byKey    map[string]string          // key -> ID
}

// NewFileStore creates a file-backed session store rooted at dataDir,
// loading any sessions already on disk.
func NewFileStore(dataDir string) (*FileStore, error) {
	s := &FileStore{
		dataDir:  dataDir,
		sessions: map[string]*models.Session{},
		byKey:    map[string]string{},
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

// sessionFilename escapes a session key into a filesystem-safe filename,
// replacing ':' and any other unsafe character with '_'.
func sessionFilename(key string) string {
	escaped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	if escaped == "" {
		escaped = "_"
	}
	return escaped + ".jsonl"
}

func (s *FileStore) pathForKey(key string) string {
	return filepath.Join(s.dataDir, sessionFilename(key))
}

func (s *FileStore) loadAll() error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		session, err := s.readFile(filepath.Join(s.dataDir, entry.Name()))
		if err != nil || session == nil {
			continue
		}
		s.sessions[session.ID] = session
		if session.Key != "" {
			s.byKey[session.Key] = session.ID
		}
	}
	return nil
}

func (s *FileStore) readFile(path string) (*models.Session, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	session := &models.Session{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		switch rec.Type {
		case recordTypeMetadata:
			session.ID = rec.ID
			session.AgentID = rec.AgentID
			session.ChannelID = rec.ChannelID
			session.Key = rec.Key
			session.CreatedAt = rec.CreatedAt
			session.UpdatedAt = rec.UpdatedAt
			session.Metadata = rec.Metadata
		case recordTypeMessage:
			session.Messages = append(session.Messages, models.ChatMessage{
				Role:       rec.Role,
				Content:    rec.Content,
				Timestamp:  rec.Timestamp,
				ToolCalls:  rec.ToolCalls,
				ToolCallID: rec.ToolCallID,
				Name:       rec.Name,
			})
		}
		first = false
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if first && session.ID == "" {
		return nil, nil
	}
	return session, nil
}

func metadataLine(session *models.Session) ([]byte, error) {
	rec := fileRecord{
		Type:      recordTypeMetadata,
		ID:        session.ID,
		AgentID:   session.AgentID,
		ChannelID: session.ChannelID,
		Key:       session.Key,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
		Metadata:  session.Metadata,
	}
	return json.Marshal(&rec)
}

func messageLine(msg models.ChatMessage) ([]byte, error) {
	rec := fileRecord{
		Type:       recordTypeMessage,
		Role:       msg.Role,
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
		ToolCalls:  msg.ToolCalls,
		ToolCallID: msg.ToolCallID,
		Name:       msg.Name,
	}
	return json.Marshal(&rec)
}

// writeFull rewrites a session's file from scratch: metadata line, then
// one line per message. Used whenever the message list itself is
// replaced (Update, trimming) rather than strictly appended to.
func (s *FileStore) writeFull(session *models.Session) error {
	if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		return err
	}
	path := s.pathForKey(session.Key)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	meta, err := metadataLine(session)
	if err != nil {
		f.Close()
		return err
	}
	if _, err := w.Write(meta); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		f.Close()
		return err
	}
	for _, msg := range session.Messages {
		line, err := messageLine(msg)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := w.Write(line); err != nil {
			f.Close()
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// appendLine appends one message line to a session's existing file
// without rewriting the rest, the common path for AppendMessage.
func (s *FileStore) appendLine(key string, msg models.ChatMessage) error {
	if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		return err
	}
	path := s.pathForKey(key)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := messageLine(msg)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func (s *FileStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := cloneSession(session)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	if clone.Key == "" {
		clone.Key = clone.ID
	}

	if err := s.writeFull(clone); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}

	session.ID = clone.ID
	session.Key = clone.Key
	session.CreatedAt = clone.CreatedAt
	session.UpdatedAt = clone.UpdatedAt

	s.sessions[clone.ID] = clone
	s.byKey[clone.Key] = clone.ID
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	return cloneSession(session), nil
}

func (s *FileStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[session.ID]
	if !ok {
		return errors.New("session not found")
	}
	clone := cloneSession(session)
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	if len(clone.Messages) > maxMessagesPerSession {
		clone.Messages = clone.Messages[len(clone.Messages)-maxMessagesPerSession:]
	}

	if existing.Key != "" && existing.Key != clone.Key {
		os.Remove(s.pathForKey(existing.Key))
		delete(s.byKey, existing.Key)
	}
	if err := s.writeFull(clone); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}

	s.sessions[clone.ID] = clone
	if clone.Key != "" {
		s.byKey[clone.Key] = clone.ID
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return errors.New("session not found")
	}
	if err := os.Remove(s.pathForKey(session.Key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(s.sessions, id)
	if session.Key != "" {
		delete(s.byKey, session.Key)
	}
	return nil
}

func (s *FileStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, errors.New("session not found")
	}
	session, ok := s.sessions[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	return cloneSession(session), nil
}

func (s *FileStore) GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error) {
	s.mu.Lock()
	if id, ok := s.byKey[key]; ok {
		if session, ok := s.sessions[id]; ok {
			s.mu.Unlock()
			return cloneSession(session), nil
		}
	}
	s.mu.Unlock()

	now := time.Now()
	session := &models.Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		ChannelID: channelID,
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *FileStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Session
	for _, session := range s.sessions {
		if agentID != "" && session.AgentID != agentID {
			continue
		}
		out = append(out, cloneSession(session))
	}

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	if start > len(out) {
		return []*models.Session{}, nil
	}
	return out[start:end], nil
}

// AppendMessage appends one turn record to both the in-memory session
// and its on-disk file, without rewriting history already on disk.
func (s *FileStore) AppendMessage(ctx context.Context, sessionID string, msg models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return errors.New("session not found")
	}
	if err := s.appendLine(session.Key, msg); err != nil {
		return fmt.Errorf("append session record: %w", err)
	}
	session.Messages = append(session.Messages, msg.Clone())
	if len(session.Messages) > maxMessagesPerSession {
		session.Messages = session.Messages[len(session.Messages)-maxMessagesPerSession:]
		// The on-disk log keeps full history; trimming only applies to
		// the in-memory working set used to build provider requests.
	}
	session.UpdatedAt = time.Now()
	return nil
}

func (s *FileStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.New("session not found")
	}
	messages := session.Messages
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	out := make([]models.ChatMessage, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		out = append(out, msg.Clone())
	}
	return out, nil
}
