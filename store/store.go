// Package store persists the per-user Claude session mapping.
//
// Sessions are kept in a single JSON file and written through on every
// mutation, so a restart resumes conversations where they left off.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claudegram/claudegram/logger"
)

// Session tracks one user's conversation with Claude.
type Session struct {
	// SessionID is the UUID passed to the claude CLI.
	SessionID string `json:"session_id"`

	// Model overrides the configured default model when non-empty.
	Model string `json:"model,omitempty"`

	// MessageCount counts exchanges attempted in this session.
	MessageCount int `json:"message_count"`

	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Store manages sessions keyed by Telegram user ID.
type Store struct {
	mu       sync.Mutex
	filePath string
	sessions map[string]*Session // key: decimal user ID
}

// New creates a Store backed by the given file. If the file exists but
// cannot be parsed, the store starts fresh rather than failing; the broken
// file is overwritten on the next save.
func New(filePath string) (*Store, error) {
	s := &Store{
		filePath: filePath,
		sessions: make(map[string]*Session),
	}

	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions file: %w", err)
	}

	if err := json.Unmarshal(data, &s.sessions); err != nil {
		logger.WithComponent("store").Warn("sessions file is corrupt, starting fresh",
			"path", filePath, "error", err)
		s.sessions = make(map[string]*Session)
	}
	return s, nil
}

// Get returns the session for a user, or nil if none exists.
func (s *Store) Get(userID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key(userID)]
	if !ok {
		return nil
	}
	copied := *sess
	return &copied
}

// Ensure returns the user's session, creating one with a fresh UUID if the
// user has none yet.
func (s *Store) Ensure(userID int64) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[key(userID)]; ok {
		copied := *sess
		return &copied, nil
	}

	now := time.Now().UTC()
	sess := &Session{
		SessionID:  uuid.NewString(),
		CreatedAt:  now,
		LastUsedAt: now,
	}
	s.sessions[key(userID)] = sess

	if err := s.save(); err != nil {
		return nil, err
	}
	logger.WithComponent("store").Info("session created",
		"userID", userID, "sessionID", sess.SessionID)
	copied := *sess
	return &copied, nil
}

// Reset discards the user's session and starts a new one. The per-user
// model override survives the reset.
func (s *Store) Reset(userID int64) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var model string
	if old, ok := s.sessions[key(userID)]; ok {
		model = old.Model
	}

	now := time.Now().UTC()
	sess := &Session{
		SessionID:  uuid.NewString(),
		Model:      model,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	s.sessions[key(userID)] = sess

	if err := s.save(); err != nil {
		return nil, err
	}
	logger.WithComponent("store").Info("session reset",
		"userID", userID, "sessionID", sess.SessionID)
	copied := *sess
	return &copied, nil
}

// SetModel records a per-user model override. An empty model clears the
// override, falling back to the configured default.
func (s *Store) SetModel(userID int64, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key(userID)]
	if !ok {
		now := time.Now().UTC()
		sess = &Session{
			SessionID:  uuid.NewString(),
			CreatedAt:  now,
			LastUsedAt: now,
		}
		s.sessions[key(userID)] = sess
	}
	sess.Model = model
	return s.save()
}

// Increment bumps the user's message count and touches LastUsedAt.
// The count moves even when the exchange later fails, so /status reflects
// attempts rather than successes.
func (s *Store) Increment(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key(userID)]
	if !ok {
		return fmt.Errorf("no session for user %d", userID)
	}
	sess.MessageCount++
	sess.LastUsedAt = time.Now().UTC()
	return s.save()
}

// Count returns the number of tracked sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// save writes the session map atomically. Caller must hold mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write sessions file: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		return fmt.Errorf("failed to replace sessions file: %w", err)
	}
	return nil
}

func key(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
