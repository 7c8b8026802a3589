// ABOUTME: Interactive login and logout subcommands
// ABOUTME: Drives auth.Manager against a remote gateway or the local store, resuming saved tokens

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/zgate/internal/auth"
	"github.com/2389/zgate/internal/session"
)

func runLogin(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("login")
	server := fs.String("server", "", "gateway URL to log in against (default: local store)")
	username := fs.String("username", "", "account username (prompted when empty)")
	remember := fs.Bool("remember", false, "save the issued token for later runs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	credPath, err := auth.DefaultCredentialsPath()
	if err != nil {
		return err
	}

	mcfg := auth.ManagerConfig{
		Remote: func(url string) auth.CredentialValidator {
			return auth.NewRemoteValidator(url, nil)
		},
		Prompter:    auth.NewTerminalPrompter(),
		Credentials: auth.NewFileCredentialStore(credPath),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	if *server == "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		var verifier *auth.JWTVerifier
		if cfg.Auth.JWTSecret != "" {
			if verifier, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)); err != nil {
				return fmt.Errorf("auth.jwt_secret: %w", err)
			}
		}
		mcfg.Validator = auth.NewStoreValidator(s, s, verifier, cfg.Auth.TokenTTL, nil)
		mcfg.Auditor = auth.NewStoreAuditor(s)
	}

	mgr := auth.NewManager(nil, mcfg)
	if *username == "" && *server == "" {
		if resumed := resumeSession(ctx, mgr); resumed {
			printSession(mgr)
			color.New(color.FgHiBlack).Printf("\nResumed saved session from %s\n", credPath)
			return nil
		}
	}

	out := mgr.Login(ctx, auth.LoginRequest{
		Username:  *username,
		ServerURL: strings.TrimRight(*server, "/"),
		Remember:  *remember,
	})

	switch out.Status {
	case auth.StatusSuccess:
	case auth.StatusPending:
		return fmt.Errorf("login incomplete: %s", out.Reason)
	default:
		return fmt.Errorf("login failed: %s", out.Reason)
	}

	printSession(mgr)
	if *remember {
		fmt.Printf("\nCredentials saved to %s\n", credPath)
	} else if out.Identity.APIKey != "" {
		fmt.Println("\nBearer token:")
		fmt.Printf("  %s\n", out.Identity.APIKey)
	}
	return nil
}

func runLogout(ctx context.Context, args []string) error {
	fs, _ := newFlagSet("logout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	credPath, err := auth.DefaultCredentialsPath()
	if err != nil {
		return err
	}
	creds := auth.NewFileCredentialStore(credPath)

	saved, err := creds.Load(ctx)
	if errors.Is(err, auth.ErrNoSavedCredentials) {
		fmt.Println("Not logged in.")
		return nil
	}
	if err != nil {
		return err
	}

	mgr := auth.NewManager(nil, auth.ManagerConfig{
		Credentials: creds,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	out := mgr.Logout(ctx, auth.LogoutRequest{Scope: auth.ScopeAll, DeletePersistent: true})
	if !out.OK() {
		return fmt.Errorf("logout failed: %s", out.Reason)
	}

	fmt.Printf("Logged out %s.\n", saved.Username)
	return nil
}

// resumeSession restores the session from saved credentials. It reports
// false when there is nothing usable saved so the caller falls back to a
// password login.
func resumeSession(ctx context.Context, mgr *auth.Manager) bool {
	out := mgr.Resume(ctx)
	switch out.Status {
	case auth.StatusSuccess:
		return true
	case auth.StatusFail:
		color.New(color.FgYellow).Println("Saved credentials are no longer valid, logging in again.")
	case auth.StatusError:
		color.New(color.FgYellow).Printf("Could not resume saved session: %s\n", out.Reason)
	}
	return false
}

// printSession shows the active context and the identity behind each tier.
func printSession(mgr *auth.Manager) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	au, ok := mgr.ActiveUser()
	green.Print("✓ ")
	fmt.Print("Context: ")
	cyan.Println(au.Context.String())
	if !ok {
		return
	}
	if au.ZSession != nil {
		printIdentity("zSession", *au.ZSession, gray)
	}
	if au.Application != nil {
		printIdentity("app "+au.AppName, *au.Application, gray)
	}
}

func printIdentity(label string, id session.Identity, gray *color.Color) {
	fmt.Printf("  %-10s %s", label, id.DisplayName())
	if id.Role != "" {
		gray.Printf(" (%s)", id.Role)
	}
	fmt.Println()
}
