package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hearthapp/hearth/pkg/backend"
)

// Directory resolves user ids to display info. Implementations must be
// safe for concurrent use; the cache is shared by every synchronizer in
// the session.
type Directory interface {
	// Lookup returns the user for an id, fetching it on a cache miss.
	Lookup(ctx context.Context, userID string) (User, error)
	// Warm fetches all uncached ids in one batch so names are ready
	// before render. Best-effort: ids the backend doesn't know stay
	// unresolved and are retried on the next Lookup.
	Warm(ctx context.Context, userIDs []string) error
}

// CachedDirectory memoizes user records per session. Inserts are
// idempotent: the first resolved record for an id wins, later fetches
// of the same id are cache hits.
type CachedDirectory struct {
	gw  backend.Gateway
	log zerolog.Logger

	mu    sync.RWMutex
	users map[string]User
}

var _ Directory = (*CachedDirectory)(nil)

func NewCachedDirectory(gw backend.Gateway, log zerolog.Logger) *CachedDirectory {
	return &CachedDirectory{
		gw:    gw,
		log:   log.With().Str("component", "directory").Logger(),
		users: make(map[string]User),
	}
}

func (d *CachedDirectory) get(userID string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[userID]
	return user, ok
}

// put inserts a user unless the id is already cached.
func (d *CachedDirectory) put(user User) {
	d.mu.Lock()
	if _, ok := d.users[user.ID]; !ok {
		d.users[user.ID] = user
	}
	d.mu.Unlock()
}

func (d *CachedDirectory) Lookup(ctx context.Context, userID string) (User, error) {
	if user, ok := d.get(userID); ok {
		return user, nil
	}

	items, err := d.gw.List(ctx, CollectionUsers, backend.ListOptions{
		Filter:   fmt.Sprintf(`id = %q`, userID),
		PageSize: 1,
	})
	if err != nil {
		return User{}, fmt.Errorf("failed to look up user %s: %w", userID, err)
	}
	if len(items) == 0 {
		// Unknown ids fall back to the raw id as the display name so the
		// UI always has something to label a sender with.
		d.log.Debug().Str("user_id", userID).Msg("User not found in directory, using id as name")
		return User{ID: userID, Name: userID}, nil
	}

	var user User
	if err := decodeUser(items[0], &user); err != nil {
		return User{}, err
	}
	d.put(user)
	return user, nil
}

func (d *CachedDirectory) Warm(ctx context.Context, userIDs []string) error {
	missing := d.missingIDs(userIDs)
	if len(missing) == 0 {
		return nil
	}

	clauses := make([]string, len(missing))
	for i, id := range missing {
		clauses[i] = fmt.Sprintf(`id = %q`, id)
	}
	items, err := d.gw.List(ctx, CollectionUsers, backend.ListOptions{
		Filter:   strings.Join(clauses, " || "),
		PageSize: len(missing),
	})
	if err != nil {
		return fmt.Errorf("failed to warm directory for %d users: %w", len(missing), err)
	}

	resolved := 0
	for _, item := range items {
		var user User
		if err := decodeUser(item, &user); err != nil {
			d.log.Warn().Err(err).Msg("Dropping malformed user record from directory warm")
			continue
		}
		d.put(user)
		resolved++
	}
	d.log.Debug().Int("requested", len(missing)).Int("resolved", resolved).Msg("Warmed user directory")
	return nil
}

func (d *CachedDirectory) missingIDs(userIDs []string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]bool, len(userIDs))
	var missing []string
	for _, id := range userIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := d.users[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func decodeUser(raw []byte, user *User) error {
	if err := json.Unmarshal(raw, user); err != nil {
		return fmt.Errorf("failed to decode user record: %w", err)
	}
	if user.ID == "" {
		return fmt.Errorf("user record has no id")
	}
	return nil
}
