package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/hearthapp/hearth/pkg/attach"
	"github.com/hearthapp/hearth/pkg/backend"
	"github.com/hearthapp/hearth/pkg/chatsync"
)

var chatCommand = &cli.Command{
	Name:      "chat",
	Usage:     "Open a conversation and chat live",
	ArgsUsage: "CONVERSATION",
	Before:    requiresAuth,
	Action:    cmdChat,
}

// backendLookupTimeout bounds per-message name resolution while
// rendering; misses fall back to the raw user id.
const backendLookupTimeout = 5 * time.Second

// chatPrinter renders timeline snapshots incrementally: only messages
// not yet printed are written, in timeline order.
type chatPrinter struct {
	dir    chatsync.Directory
	selfID string

	mu      sync.Mutex
	printed map[string]bool
}

func (p *chatPrinter) print(messages []chatsync.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range messages {
		if p.printed[msg.ID] {
			continue
		}
		p.printed[msg.ID] = true

		name := msg.Sender
		if msg.Sender == p.selfID {
			name = "you"
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), backendLookupTimeout)
			if user, err := p.dir.Lookup(ctx, msg.Sender); err == nil {
				name = user.Name
			}
			cancel()
		}

		body := msg.Content
		if msg.Attachment != nil {
			body = fmt.Sprintf("[%s: %s] %s", msg.Attachment.Kind, msg.Attachment.File, body)
		}
		fmt.Printf("%s  %s: %s\n", msg.Created.Local().Format("15:04"), name, body)
	}
}

func cmdChat(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a conversation id")
	}
	convID := ctx.Args().Get(0)
	sess := getSession(ctx)
	cfg := getConfig(ctx)
	log := getLogger(ctx)

	client := backend.NewClient(sess.ServerURL, sess.Token, log)
	if err := client.Connect(ctx.Context); err != nil {
		return err
	}
	defer client.Close()

	conv, err := fetchConversation(ctx.Context, client, convID)
	if err != nil {
		return err
	}

	dir := chatsync.NewCachedDirectory(client, log)
	printer := &chatPrinter{dir: dir, selfID: sess.UserID, printed: make(map[string]bool)}

	timeline := chatsync.NewTimeline(client, dir, conv, sess.UserID, chatsync.TimelineHandlers{
		OnChange: printer.print,
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "! %v (type /reload to retry)\n", err)
		},
	}, log)
	defer timeline.Close()

	if err := timeline.Open(ctx.Context); err != nil {
		return err
	}
	if !timeline.Live() {
		fmt.Println("(live updates unavailable — showing fetched history, /reload to refresh)")
	}

	// Pick up log-level edits without restarting the session.
	watcher, err := watchConfig(cfg.path, log, func(newCfg *Config) {
		zerolog.SetGlobalLevel(newCfg.logLevel)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
	} else {
		defer watcher.Close()
	}

	fmt.Println("Type a message and press enter. /attach FILE [caption], /reload, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "/quit":
			return nil
		case line == "/reload":
			if err := timeline.LoadHistory(ctx.Context); err != nil {
				fmt.Fprintf(os.Stderr, "! reload failed: %v\n", err)
			}
		case strings.HasPrefix(line, "/attach "):
			if err := sendAttachment(ctx.Context, client, timeline, strings.TrimPrefix(line, "/attach ")); err != nil {
				fmt.Fprintf(os.Stderr, "! %v\n", err)
			}
		default:
			if _, err := timeline.Send(ctx.Context, line); err != nil {
				if err == chatsync.ErrEmptyMessage {
					continue
				}
				// The input is echoed back so a failed send isn't lost.
				fmt.Fprintf(os.Stderr, "! send failed: %v\n  your message: %s\n", err, line)
			}
		}
	}
	return scanner.Err()
}

// collectionFiles holds uploaded attachment blobs; messages reference
// them by record id.
const collectionFiles = "files"

func sendAttachment(ctx context.Context, gw backend.Gateway, timeline *chatsync.Timeline, args string) error {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	path := parts[0]
	caption := ""
	if len(parts) == 2 {
		caption = parts[1]
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read attachment: %w", err)
	}
	kind := attach.DetectKind(data, path)
	if kind == chatsync.AttachmentImage {
		// Full-resolution photos are downscaled before upload; on
		// decode failure the original bytes go up unchanged.
		if scaled, serr := attach.DownscaleImage(data); serr == nil {
			data = scaled
		}
	}

	raw, err := gw.Create(ctx, collectionFiles, map[string]any{
		"name": filepath.Base(path),
		"data": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload attachment: %w", err)
	}
	var fileRec struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &fileRec); err != nil || fileRec.ID == "" {
		return fmt.Errorf("attachment uploaded but reference was malformed")
	}

	_, err = timeline.SendAttachment(ctx, chatsync.Attachment{
		Kind: kind,
		File: fileRec.ID,
	}, caption)
	return err
}

func fetchConversation(ctx context.Context, gw backend.Gateway, convID string) (chatsync.Conversation, error) {
	items, err := gw.List(ctx, chatsync.CollectionConversations, backend.ListOptions{
		Filter:   fmt.Sprintf(`id = %q`, convID),
		PageSize: 1,
	})
	if err != nil {
		return chatsync.Conversation{}, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	if len(items) == 0 {
		return chatsync.Conversation{}, fmt.Errorf("conversation %s not found", convID)
	}
	return chatsync.DecodeConversation(items[0])
}
