package main

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/hearthapp/hearth/pkg/backend"
	"github.com/hearthapp/hearth/pkg/chatsync"
	"github.com/hearthapp/hearth/pkg/polls"
)

var pollCommand = &cli.Command{
	Name:  "poll",
	Usage: "Movie poll utilities",
	Subcommands: []*cli.Command{
		{
			Name:      "tally",
			Usage:     "Tally a poll's votes and show matches and the winner",
			ArgsUsage: "POLL",
			Before:    requiresAuth,
			Action:    cmdPollTally,
		},
	},
}

func cmdPollTally(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a poll id")
	}
	pollID := ctx.Args().Get(0)
	sess := getSession(ctx)
	log := getLogger(ctx)

	client := backend.NewClient(sess.ServerURL, sess.Token, log)
	if err := client.Connect(ctx.Context); err != nil {
		return err
	}
	defer client.Close()

	memberCount, err := householdMemberCount(ctx, client, sess.UserID)
	if err != nil {
		return err
	}

	votes, items, err := polls.Fetch(ctx.Context, client, pollID)
	if err != nil {
		return err
	}
	result := polls.Tally(votes, items, memberCount)

	titles := make(map[string]string, len(items))
	for _, item := range items {
		titles[item.Candidate] = item.Title
	}
	matched := make(map[string]bool, len(result.Matches))
	for _, candidate := range result.Matches {
		matched[candidate] = true
	}

	threshold := polls.Threshold(memberCount)
	fmt.Printf("Poll %s — %d members, match threshold %d yes\n", pollID, memberCount, threshold)
	for _, count := range result.Counts {
		title := titles[count.Candidate]
		if title == "" {
			title = count.Candidate
		}
		mark := " "
		if matched[count.Candidate] {
			mark = "*"
		}
		fmt.Printf(" %s %-30s  %d yes / %d no\n", mark, title, count.Yes, count.No)
	}
	if result.Winner != "" {
		title := titles[result.Winner]
		if title == "" {
			title = result.Winner
		}
		fmt.Printf("Winner: %s\n", title)
	} else {
		fmt.Println("No winner yet")
	}
	return nil
}

func householdMemberCount(ctx *cli.Context, gw backend.Gateway, userID string) (int, error) {
	items, err := gw.List(ctx.Context, chatsync.CollectionHouseholds, backend.ListOptions{
		Filter:   fmt.Sprintf(`members ~ %q`, userID),
		PageSize: 1,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to resolve household: %w", err)
	}
	if len(items) == 0 {
		return 0, fmt.Errorf("user %s has no household", userID)
	}
	var hh chatsync.Household
	if err := json.Unmarshal(items[0], &hh); err != nil {
		return 0, fmt.Errorf("failed to decode household: %w", err)
	}
	return len(hh.Members), nil
}
