package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hearthapp/hearth/pkg/backend"
	"github.com/hearthapp/hearth/pkg/chatsync"
)

var conversationsCommand = &cli.Command{
	Name:    "conversations",
	Aliases: []string{"ls"},
	Usage:   "List your household's conversations with unread counts",
	Before:  requiresAuth,
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "cached", Usage: "Show the cached list without contacting the server"},
	},
	Action: cmdConversations,
}

func cmdConversations(ctx *cli.Context) error {
	sess := getSession(ctx)
	store := getStore(ctx)
	log := getLogger(ctx)

	if ctx.Bool("cached") {
		entries, err := store.CachedConversations(ctx.Context)
		if err != nil {
			return err
		}
		printConversations(entries)
		return nil
	}

	client := backend.NewClient(sess.ServerURL, sess.Token, log)
	if err := client.Connect(ctx.Context); err != nil {
		return err
	}
	defer client.Close()

	dir := chatsync.NewCachedDirectory(client, log)
	list := chatsync.NewConversationList(client, dir, nil, log)
	if err := list.Load(ctx.Context, sess.UserID); err != nil {
		return err
	}
	entries := list.Entries()
	printConversations(entries)

	if err := store.SaveConversations(ctx.Context, entries); err != nil {
		log.Warn().Err(err).Msg("Failed to refresh conversation cache")
	}
	return nil
}

func printConversations(entries []chatsync.ConversationEntry) {
	if len(entries) == 0 {
		fmt.Println("No conversations")
		return
	}
	for _, entry := range entries {
		conv := entry.Conversation
		title := conv.Title
		if title == "" {
			title = strings.Join(conv.Participants, ", ")
		}
		badge := ""
		if entry.Unread > 0 {
			badge = fmt.Sprintf(" (%d unread)", entry.Unread)
		}
		fmt.Printf("%-20s  %s%s\n", conv.ID, title, badge)
		if conv.LastMessage != "" {
			fmt.Printf("%-20s  └ %s\n", "", conv.LastMessage)
		}
	}
}
