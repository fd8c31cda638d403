// Package localstore is the CLI's on-disk cache: the login session and
// a copy of the conversation list for instant startup rendering.
// Message timelines are deliberately never persisted — reopening a
// conversation always re-fetches.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/util/dbutil"

	"github.com/hearthapp/hearth/pkg/chatsync"
)

// ErrNoSession is returned by GetSession when nobody is logged in.
var ErrNoSession = errors.New("localstore: no saved session")

// Session is the saved login state.
type Session struct {
	ServerURL string
	UserID    string
	Token     string
	SavedAt   time.Time
}

type Store struct {
	db *dbutil.Database
}

// Open opens (creating if needed) the store at the given sqlite path
// and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := dbutil.NewWithDialect(path, "sqlite3")
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS session (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			server_url TEXT NOT NULL,
			user_id TEXT NOT NULL,
			token TEXT NOT NULL,
			saved_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_cache (
			conversation_id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			is_group BOOLEAN NOT NULL DEFAULT FALSE,
			participants_json TEXT NOT NULL DEFAULT '[]',
			last_message TEXT NOT NULL DEFAULT '',
			last_message_at_ts BIGINT NOT NULL DEFAULT 0,
			unread INTEGER NOT NULL DEFAULT 0,
			updated_ts BIGINT NOT NULL
		)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to ensure local store schema: %w", err)
		}
	}
	return nil
}

// SaveSession stores the login, replacing any previous one.
func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO session (id, server_url, user_id, token, saved_ts)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			server_url = excluded.server_url,
			user_id = excluded.user_id,
			token = excluded.token,
			saved_ts = excluded.saved_ts
	`, sess.ServerURL, sess.UserID, sess.Token, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context) (Session, error) {
	var sess Session
	var savedTS int64
	err := s.db.QueryRow(ctx,
		`SELECT server_url, user_id, token, saved_ts FROM session WHERE id = 1`,
	).Scan(&sess.ServerURL, &sess.UserID, &sess.Token, &savedTS)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	sess.SavedAt = time.UnixMilli(savedTS)
	return sess, nil
}

// ClearSession logs out. Clearing an absent session is a no-op.
func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM session WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// SaveConversations replaces the cached conversation list with the
// given entries.
func (s *Store) SaveConversations(ctx context.Context, entries []chatsync.ConversationEntry) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM conversation_cache`); err != nil {
		return fmt.Errorf("failed to clear conversation cache: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, entry := range entries {
		participants, err := json.Marshal(entry.Conversation.Participants)
		if err != nil {
			return err
		}
		_, err = s.db.Exec(ctx, `
			INSERT INTO conversation_cache (
				conversation_id, title, is_group, participants_json,
				last_message, last_message_at_ts, unread, updated_ts
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, entry.Conversation.ID, entry.Conversation.Title, entry.Conversation.IsGroup,
			string(participants), entry.Conversation.LastMessage,
			entry.Conversation.LastMessageAt.UnixMilli(), entry.Unread, now)
		if err != nil {
			return fmt.Errorf("failed to cache conversation %s: %w", entry.Conversation.ID, err)
		}
	}
	return nil
}

// CachedConversations returns the cached list, newest activity first.
func (s *Store) CachedConversations(ctx context.Context) ([]chatsync.ConversationEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT conversation_id, title, is_group, participants_json,
		       last_message, last_message_at_ts, unread
		FROM conversation_cache
		ORDER BY last_message_at_ts DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation cache: %w", err)
	}
	defer rows.Close()

	var entries []chatsync.ConversationEntry
	for rows.Next() {
		var entry chatsync.ConversationEntry
		var participantsJSON string
		var lastMessageAtTS int64
		if err := rows.Scan(
			&entry.Conversation.ID, &entry.Conversation.Title, &entry.Conversation.IsGroup,
			&participantsJSON, &entry.Conversation.LastMessage, &lastMessageAtTS, &entry.Unread,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(participantsJSON), &entry.Conversation.Participants); err != nil {
			entry.Conversation.Participants = nil
		}
		entry.Conversation.LastMessageAt = time.UnixMilli(lastMessageAtTS)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
