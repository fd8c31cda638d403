// Package polls tallies movie-poll votes. Votes are independent
// create-records on a shared collection; tallying is a pure function
// over the fetched vote set, so the result is identical no matter what
// order the votes arrive in.
package polls

import (
	"math"
	"sort"
	"time"
)

// Vote is one user's yes/no on one candidate in one poll. At most one
// vote per (poll, candidate, user) key is expected; duplicates keep the
// most recently created one.
type Vote struct {
	Poll      string    `json:"poll"`
	Candidate string    `json:"candidate"`
	User      string    `json:"user"`
	Yes       bool      `json:"yes"`
	Created   time.Time `json:"created"`
}

// Item is one candidate in a poll, keyed by its external id (e.g. a
// movie database id). Created orders candidates for tie-breaking.
type Item struct {
	Candidate string    `json:"candidate"`
	Title     string    `json:"title"`
	Created   time.Time `json:"created"`
}

// Count is the tallied result for one candidate.
type Count struct {
	Candidate string
	Yes       int
	No        int
}

// Result is the outcome of tallying one poll's vote set.
type Result struct {
	// Counts holds every candidate that received at least one vote,
	// ordered by item creation time (then candidate id).
	Counts []Count
	// Matches are the candidates meeting the consensus threshold, in
	// the same order as Counts.
	Matches []string
	// Winner is the candidate with the highest yes-count among those
	// with yes > no, or empty if there is none. Ties break to the
	// earliest-created poll item, then to candidate id ascending, so
	// the winner is deterministic for a given vote set.
	Winner string
}

// Threshold is the yes-vote consensus bar for a household:
// max(2, ceil(memberCount * 0.6)).
func Threshold(memberCount int) int {
	t := int(math.Ceil(float64(memberCount) * 0.6))
	if t < 2 {
		return 2
	}
	return t
}

// Tally counts votes per candidate and derives matches and the winner.
// Pure and idempotent: the same vote set always produces the same
// result, independent of fetch order.
func Tally(votes []Vote, items []Item, memberCount int) Result {
	// Deduplicate by (candidate, user), keeping the newest vote. Ties
	// on creation time resolve to "no" so a conflicting double-write
	// never inflates the yes count.
	type key struct{ candidate, user string }
	effective := make(map[key]Vote, len(votes))
	for _, v := range votes {
		k := key{v.Candidate, v.User}
		prev, ok := effective[k]
		switch {
		case !ok:
			effective[k] = v
		case v.Created.After(prev.Created):
			effective[k] = v
		case v.Created.Equal(prev.Created) && !v.Yes:
			effective[k] = v
		}
	}

	counts := make(map[string]*Count)
	for _, v := range effective {
		c, ok := counts[v.Candidate]
		if !ok {
			c = &Count{Candidate: v.Candidate}
			counts[v.Candidate] = c
		}
		if v.Yes {
			c.Yes++
		} else {
			c.No++
		}
	}

	itemOrder := make(map[string]time.Time, len(items))
	for _, item := range items {
		itemOrder[item.Candidate] = item.Created
	}
	// before is the deterministic candidate order: earliest-created
	// poll item first, candidate id as the final tie-break. Candidates
	// without a known item sort after those with one.
	before := func(a, b string) bool {
		ta, okA := itemOrder[a]
		tb, okB := itemOrder[b]
		if okA != okB {
			return okA
		}
		if okA && !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a < b
	}

	result := Result{Counts: make([]Count, 0, len(counts))}
	for _, c := range counts {
		result.Counts = append(result.Counts, *c)
	}
	sort.Slice(result.Counts, func(i, j int) bool {
		return before(result.Counts[i].Candidate, result.Counts[j].Candidate)
	})

	threshold := Threshold(memberCount)
	for _, c := range result.Counts {
		if c.Yes >= threshold && c.Yes > c.No {
			result.Matches = append(result.Matches, c.Candidate)
		}
	}

	bestYes := 0
	for _, c := range result.Counts {
		if c.Yes <= c.No {
			continue
		}
		if c.Yes > bestYes {
			bestYes = c.Yes
			result.Winner = c.Candidate
		}
		// Counts is already in deterministic order, so on a yes-count
		// tie the earlier candidate keeps the win.
	}

	return result
}
