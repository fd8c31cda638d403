package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hearthapp/hearth/pkg/backend"
)

// ErrLoadInProgress is returned when Load is called while a previous
// load is still running. The new call is ignored, not queued.
var ErrLoadInProgress = errors.New("chatsync: conversation list load already in progress")

// unreadProbeLimit bounds the unread-count fetch per conversation. An
// unread count past this is shown as the limit, which is plenty for a
// badge.
const unreadProbeLimit = 200

// ConversationEntry is a conversation annotated with its unread count
// for the list screen.
type ConversationEntry struct {
	Conversation Conversation
	Unread       int
}

// ConversationList loads the signed-in user's conversations, each with
// a live unread count.
type ConversationList struct {
	gw       backend.Gateway
	dir      Directory
	log      zerolog.Logger
	onChange func(entries []ConversationEntry)

	mu      sync.Mutex
	loading bool
	entries []ConversationEntry
}

// NewConversationList constructs a list synchronizer. onChange is
// optional and receives a snapshot after every mutation.
func NewConversationList(gw backend.Gateway, dir Directory, onChange func([]ConversationEntry), log zerolog.Logger) *ConversationList {
	return &ConversationList{
		gw:       gw,
		dir:      dir,
		log:      log.With().Str("component", "conversation_list").Logger(),
		onChange: onChange,
	}
}

// Load resolves the user's household (first household only), fetches
// its conversations and then each conversation's unread count
// independently. A conversation whose unread fetch fails is shown with
// a count of zero rather than failing the whole list. A load already in
// progress causes this call to return ErrLoadInProgress.
func (l *ConversationList) Load(ctx context.Context, currentUserID string) error {
	l.mu.Lock()
	if l.loading {
		l.mu.Unlock()
		return ErrLoadInProgress
	}
	l.loading = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.loading = false
		l.mu.Unlock()
	}()

	householdID, err := l.resolveHousehold(ctx, currentUserID)
	if err != nil {
		return err
	}

	items, err := l.gw.List(ctx, CollectionConversations, backend.ListOptions{
		Filter: fmt.Sprintf(`household = %q`, householdID),
		Sort:   "-lastMessageAt",
	})
	if err != nil {
		return fmt.Errorf("failed to fetch conversations: %w", err)
	}

	entries := make([]ConversationEntry, 0, len(items))
	for _, item := range items {
		conv, derr := DecodeConversation(item)
		if derr != nil {
			l.log.Warn().Err(derr).Msg("Dropping malformed conversation record")
			continue
		}
		entries = append(entries, ConversationEntry{Conversation: conv})
	}

	// Unread counts are independent per conversation; one failing fetch
	// only zeroes that conversation's badge.
	var wg sync.WaitGroup
	for i := range entries {
		wg.Add(1)
		go func(entry *ConversationEntry) {
			defer wg.Done()
			count, cerr := l.UnreadCount(ctx, entry.Conversation.ID, currentUserID)
			if cerr != nil {
				l.log.Warn().Err(cerr).
					Str("conversation", entry.Conversation.ID).
					Msg("Failed to fetch unread count, showing zero")
				return
			}
			entry.Unread = count
		}(&entries[i])
	}
	wg.Wait()

	// Warm participant names so the list screen can label rows without
	// per-row lookups.
	var participantIDs []string
	for _, entry := range entries {
		participantIDs = append(participantIDs, entry.Conversation.Participants...)
	}
	if err := l.dir.Warm(ctx, participantIDs); err != nil {
		l.log.Warn().Err(err).Msg("Failed to warm user directory for conversation list")
	}

	l.mu.Lock()
	l.entries = entries
	snapshot := l.snapshotLocked()
	l.mu.Unlock()
	l.emit(snapshot)
	l.log.Debug().Int("conversations", len(entries)).Str("household", householdID).Msg("Loaded conversation list")
	return nil
}

// AddConversation inserts a conversation at the head of the list
// immediately (the current user just created it) and fetches its unread
// count in the background.
func (l *ConversationList) AddConversation(conv Conversation, currentUserID string) {
	l.mu.Lock()
	l.entries = append([]ConversationEntry{{Conversation: conv}}, l.entries...)
	snapshot := l.snapshotLocked()
	l.mu.Unlock()
	l.emit(snapshot)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		count, err := l.UnreadCount(ctx, conv.ID, currentUserID)
		if err != nil {
			l.log.Warn().Err(err).Str("conversation", conv.ID).Msg("Failed to fetch unread count for new conversation")
			return
		}
		l.mu.Lock()
		for i := range l.entries {
			if l.entries[i].Conversation.ID == conv.ID {
				l.entries[i].Unread = count
				break
			}
		}
		snapshot := l.snapshotLocked()
		l.mu.Unlock()
		l.emit(snapshot)
	}()
}

// UnreadCount fetches the number of messages in a conversation whose
// reader set excludes the user. Computed on demand from the backend,
// not maintained incrementally.
func (l *ConversationList) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	items, err := l.gw.List(ctx, CollectionMessages, backend.ListOptions{
		Filter:   fmt.Sprintf(`conversation = %q && readBy !~ %q`, conversationID, userID),
		PageSize: unreadProbeLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unread count: %w", err)
	}
	return len(items), nil
}

// Entries returns a snapshot of the current list.
func (l *ConversationList) Entries() []ConversationEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *ConversationList) resolveHousehold(ctx context.Context, userID string) (string, error) {
	items, err := l.gw.List(ctx, CollectionHouseholds, backend.ListOptions{
		Filter:   fmt.Sprintf(`members ~ %q`, userID),
		PageSize: 1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve household: %w", err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("user %s has no household", userID)
	}
	var hh Household
	if err := decodeHousehold(items[0], &hh); err != nil {
		return "", err
	}
	return hh.ID, nil
}

func (l *ConversationList) snapshotLocked() []ConversationEntry {
	snapshot := make([]ConversationEntry, len(l.entries))
	copy(snapshot, l.entries)
	return snapshot
}

func (l *ConversationList) emit(snapshot []ConversationEntry) {
	if l.onChange != nil {
		l.onChange(snapshot)
	}
}

func decodeHousehold(raw []byte, hh *Household) error {
	if err := json.Unmarshal(raw, hh); err != nil {
		return fmt.Errorf("failed to decode household record: %w", err)
	}
	if hh.ID == "" {
		return fmt.Errorf("household record has no id")
	}
	return nil
}
