package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthapp/hearth/pkg/backend"
)

// userGateway serves the users collection from a fixed set, matching
// ids against the filter string.
func userGateway(users ...User) *fakeGateway {
	gw := &fakeGateway{}
	gw.listFn = func(collection string, opts backend.ListOptions) ([]json.RawMessage, error) {
		if collection != CollectionUsers {
			return nil, nil
		}
		var items []json.RawMessage
		for _, u := range users {
			if strings.Contains(opts.Filter, `"`+u.ID+`"`) {
				raw, _ := json.Marshal(u)
				items = append(items, raw)
			}
		}
		return items, nil
	}
	return gw
}

func TestDirectoryLookupMemoized(t *testing.T) {
	gw := userGateway(User{ID: "bob", Name: "Bob", Avatar: "bob.png"})
	dir := NewCachedDirectory(gw, testLogger())

	user, err := dir.Lookup(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", user.Name)

	user, err = dir.Lookup(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", user.Name)

	assert.Len(t, gw.listCalls, 1)
}

func TestDirectoryUnknownUserFallsBackToID(t *testing.T) {
	gw := userGateway()
	dir := NewCachedDirectory(gw, testLogger())

	user, err := dir.Lookup(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", user.ID)
	assert.Equal(t, "ghost", user.Name)

	// The miss is not cached; the next lookup asks the backend again.
	_, err = dir.Lookup(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Len(t, gw.listCalls, 2)
}

func TestDirectoryLookupError(t *testing.T) {
	gw := &fakeGateway{}
	gw.listFn = func(string, backend.ListOptions) ([]json.RawMessage, error) {
		return nil, errors.New("backend down")
	}
	dir := NewCachedDirectory(gw, testLogger())
	_, err := dir.Lookup(context.Background(), "bob")
	assert.Error(t, err)
}

func TestDirectoryWarmBatchesMisses(t *testing.T) {
	gw := userGateway(
		User{ID: "alice", Name: "Alice"},
		User{ID: "bob", Name: "Bob"},
	)
	dir := NewCachedDirectory(gw, testLogger())

	// Duplicates and empty ids collapse; all misses go out in one call.
	require.NoError(t, dir.Warm(context.Background(), []string{"alice", "bob", "alice", "", "bob"}))
	require.Len(t, gw.listCalls, 1)

	user, err := dir.Lookup(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
	user, err = dir.Lookup(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", user.Name)
	assert.Len(t, gw.listCalls, 1)
}

func TestDirectoryWarmSkipsCachedIDs(t *testing.T) {
	gw := userGateway(User{ID: "alice", Name: "Alice"})
	dir := NewCachedDirectory(gw, testLogger())

	require.NoError(t, dir.Warm(context.Background(), []string{"alice"}))
	require.NoError(t, dir.Warm(context.Background(), []string{"alice"}))
	assert.Len(t, gw.listCalls, 1)
}

func TestDirectoryFirstRecordWins(t *testing.T) {
	gw := userGateway(User{ID: "bob", Name: "Bob"})
	dir := NewCachedDirectory(gw, testLogger())

	_, err := dir.Lookup(context.Background(), "bob")
	require.NoError(t, err)

	// A later warm carrying a changed record does not clobber the
	// cached entry.
	dir.put(User{ID: "bob", Name: "Robert"})
	user, err := dir.Lookup(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", user.Name)
}

func TestDirectoryConcurrentLookups(t *testing.T) {
	gw := userGateway(
		User{ID: "alice", Name: "Alice"},
		User{ID: "bob", Name: "Bob"},
		User{ID: "carol", Name: "Carol"},
	)
	dir := NewCachedDirectory(gw, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for _, id := range []string{"alice", "bob", "carol"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				user, err := dir.Lookup(context.Background(), id)
				assert.NoError(t, err)
				assert.Equal(t, id, user.ID)
			}(id)
		}
	}
	wg.Wait()
}
