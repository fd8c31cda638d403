package polls

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hearthapp/hearth/pkg/backend"
)

// Collection names on the backend.
const (
	CollectionVotes = "poll_votes"
	CollectionItems = "poll_items"
)

// Fetch loads a poll's full vote set and candidate items. The result
// feeds Tally; fetch order doesn't matter because tallying is pure.
func Fetch(ctx context.Context, gw backend.Gateway, pollID string) ([]Vote, []Item, error) {
	rawVotes, err := gw.List(ctx, CollectionVotes, backend.ListOptions{
		Filter: fmt.Sprintf(`poll = %q`, pollID),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch votes: %w", err)
	}
	votes := make([]Vote, 0, len(rawVotes))
	for _, raw := range rawVotes {
		var v Vote
		if err := json.Unmarshal(raw, &v); err != nil {
			// A malformed vote record is dropped, not fatal — same
			// posture as the realtime event path.
			continue
		}
		votes = append(votes, v)
	}

	rawItems, err := gw.List(ctx, CollectionItems, backend.ListOptions{
		Filter: fmt.Sprintf(`poll = %q`, pollID),
		Sort:   "created",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch poll items: %w", err)
	}
	items := make([]Item, 0, len(rawItems))
	for _, raw := range rawItems {
		var item Item
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		items = append(items, item)
	}

	return votes, items, nil
}
