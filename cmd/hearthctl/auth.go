package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/hearthapp/hearth/pkg/backend"
	"github.com/hearthapp/hearth/pkg/chatsync"
	"github.com/hearthapp/hearth/pkg/localstore"
)

var loginCommand = &cli.Command{
	Name:   "login",
	Usage:  "Save credentials for a hearth server",
	Before: prepareApp,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "server", Usage: "Backend WebSocket URL (overrides config)", Required: false},
		&cli.StringFlag{Name: "user", Usage: "Your user id", Required: true},
		&cli.StringFlag{Name: "token", Usage: "Auth token issued by the server", Required: true},
	},
	Action: cmdLogin,
}

var logoutCommand = &cli.Command{
	Name:   "logout",
	Usage:  "Forget the saved session",
	Before: prepareApp,
	Action: cmdLogout,
}

var whoamiCommand = &cli.Command{
	Name:   "whoami",
	Usage:  "Show the signed-in user",
	Before: requiresAuth,
	Action: cmdWhoami,
}

func cmdLogin(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	serverURL := ctx.String("server")
	if serverURL == "" {
		serverURL = cfg.ServerURL
	}
	if serverURL == "" {
		return fmt.Errorf("no server URL: pass --server or set server_url in the config")
	}

	sess := localstore.Session{
		ServerURL: serverURL,
		UserID:    ctx.String("user"),
		Token:     ctx.String("token"),
	}

	// Verify the credentials before saving anything.
	log := getLogger(ctx)
	client := backend.NewClient(sess.ServerURL, sess.Token, log)
	if err := client.Connect(ctx.Context); err != nil {
		return err
	}
	defer client.Close()

	dir := chatsync.NewCachedDirectory(client, log)
	user, err := dir.Lookup(ctx.Context, sess.UserID)
	if err != nil {
		return fmt.Errorf("failed to verify user: %w", err)
	}

	if err := getStore(ctx).SaveSession(ctx.Context, sess); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s (%s)\n", user.Name, user.ID)
	return nil
}

func cmdLogout(ctx *cli.Context) error {
	if err := getStore(ctx).ClearSession(ctx.Context); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}

func cmdWhoami(ctx *cli.Context) error {
	sess := getSession(ctx)
	fmt.Printf("%s @ %s\n", sess.UserID, sess.ServerURL)
	return nil
}
