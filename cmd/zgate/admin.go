// ABOUTME: Account administration subcommands: users, enable, disable, passwd, apps, revoke and audit
// ABOUTME: Lists and edits stored zSession users and application identities, and shows the audit log

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/zgate/internal/auth"
	"github.com/2389/zgate/internal/store"
)

// withStore loads the config and opens the store for the duration of fn.
func withStore(configPath string, fn func(s *store.SQLiteStore) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func runUsers(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("users")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withStore(*configPath, func(s *store.SQLiteStore) error {
		return printUsers(ctx, os.Stdout, s)
	})
}

func runUserStatus(ctx context.Context, name string, status store.UserStatus, args []string) error {
	fs, configPath := newFlagSet(name)
	username := fs.String("username", "", "account username (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" {
		return errors.New("--username is required")
	}
	return withStore(*configPath, func(s *store.SQLiteStore) error {
		u, err := setUserStatus(ctx, s, strings.TrimSpace(*username), status)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Print("✓ ")
		fmt.Printf("User %s is now %s\n", u.Username, u.Status)
		printCacheHint()
		return nil
	})
}

func runPasswd(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("passwd")
	username := fs.String("username", "", "account username (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	name := strings.TrimSpace(*username)
	if name == "" {
		return errors.New("--username is required")
	}
	password, err := readPassword(ctx, name)
	if err != nil {
		return err
	}
	return withStore(*configPath, func(s *store.SQLiteStore) error {
		if err := changePassword(ctx, s, name, password); err != nil {
			return err
		}
		color.New(color.FgGreen).Print("✓ ")
		fmt.Printf("Password changed for %s\n", name)
		return nil
	})
}

func runAppUsers(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("apps")
	app := fs.String("app", "", "only list identities of this application")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withStore(*configPath, func(s *store.SQLiteStore) error {
		return printAppUsers(ctx, os.Stdout, s, strings.TrimSpace(*app))
	})
}

func runRevoke(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("revoke")
	id := fs.String("id", "", "application identity ID (required, see zgate apps)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	return withStore(*configPath, func(s *store.SQLiteStore) error {
		if err := revokeAppUser(ctx, s, strings.TrimSpace(*id)); err != nil {
			return err
		}
		color.New(color.FgGreen).Print("✓ ")
		fmt.Printf("Revoked application identity %s\n", *id)
		printCacheHint()
		return nil
	})
}

func runAudit(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("audit")
	actor := fs.String("actor", "", "only entries by this actor")
	sessionID := fs.String("session", "", "only entries from this session ID")
	action := fs.String("action", "", "only entries with this action")
	since := fs.Duration("since", 0, "only entries newer than this (e.g. 24h)")
	limit := fs.Int("limit", 50, "maximum entries to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := store.AuditFilter{Limit: *limit}
	if *actor != "" {
		filter.Actor = actor
	}
	if *sessionID != "" {
		filter.SessionID = sessionID
	}
	if *action != "" {
		a := store.AuditAction(*action)
		if !a.IsValid() {
			return fmt.Errorf("unknown audit action %q", *action)
		}
		filter.Action = &a
	}
	if *since > 0 {
		t := time.Now().Add(-*since)
		filter.Since = &t
	}

	return withStore(*configPath, func(s *store.SQLiteStore) error {
		return printAudit(ctx, os.Stdout, s, filter)
	})
}

// readPassword takes the password from $ZGATE_PASSWORD or the terminal.
func readPassword(ctx context.Context, username string) (string, error) {
	password := os.Getenv("ZGATE_PASSWORD")
	if password == "" {
		_, p, err := auth.NewTerminalPrompter().PromptCredentials(ctx, username)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		password = p
	}
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	return password, nil
}

func printUsers(ctx context.Context, out io.Writer, s store.UserStore) error {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(out)
	cyan.Fprintln(out, "  Users")
	cyan.Fprintln(out, "  -----")

	if len(users) == 0 {
		fmt.Fprintln(out, "  (no users)")
		fmt.Fprintln(out)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tUSERNAME\tROLE\tSTATUS\tCREATED")
	fmt.Fprintln(w, "  --\t--------\t----\t------\t-------")
	for _, u := range users {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(u.ID, 12), u.Username, u.Role, u.Status, u.CreatedAt.Local().Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Fprintln(out)
	return nil
}

func setUserStatus(ctx context.Context, s store.Store, username string, status store.UserStatus) (*store.User, error) {
	u, err := s.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %q not found", username)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if err := s.SetUserStatus(ctx, u.ID, status); err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}
	u.Status = status

	action := store.AuditEnableUser
	if status == store.UserDisabled {
		action = store.AuditDisableUser
	}
	recordAudit(ctx, s, action, "user", u.ID, map[string]any{"username": u.Username})
	return u, nil
}

func changePassword(ctx context.Context, s store.Store, username, password string) error {
	u, err := s.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("user %q not found", username)
	}
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := s.UpdateUserPassword(ctx, u.ID, string(hash)); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	recordAudit(ctx, s, store.AuditChangePasswd, "user", u.ID, map[string]any{"username": u.Username})
	return nil
}

func printAppUsers(ctx context.Context, out io.Writer, s store.AppStore, app string) error {
	ids, err := s.ListAppIdentities(ctx, app)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(out)
	cyan.Fprintln(out, "  Application Identities")
	cyan.Fprintln(out, "  ----------------------")

	if len(ids) == 0 {
		fmt.Fprintln(out, "  (no application identities)")
		fmt.Fprintln(out)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tAPP\tUSERNAME\tROLE\tKEY\tCREATED")
	fmt.Fprintln(w, "  --\t---\t--------\t----\t---\t-------")
	for _, a := range ids {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.AppName, a.Username, a.Role, maskKey(a.APIKey), a.CreatedAt.Local().Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Fprintln(out)
	return nil
}

func revokeAppUser(ctx context.Context, s store.Store, id string) error {
	if err := s.DeleteAppIdentity(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("application identity %q not found", id)
		}
		return fmt.Errorf("revoking application identity: %w", err)
	}
	recordAudit(ctx, s, store.AuditRevokeAppUser, "app_user", id, nil)
	return nil
}

func printAudit(ctx context.Context, out io.Writer, s store.AuditStore, f store.AuditFilter) error {
	entries, err := s.ListAuditLog(ctx, f)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(out)
	cyan.Fprintln(out, "  Audit Log")
	cyan.Fprintln(out, "  ---------")

	if len(entries) == 0 {
		fmt.Fprintln(out, "  (no entries)")
		fmt.Fprintln(out)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTOR\tACTION\tTARGET\tSESSION")
	fmt.Fprintln(w, "  ----\t-----\t------\t------\t-------")
	for _, e := range entries {
		sessionID := "-"
		if e.SessionID != nil {
			sessionID = truncate(*e.SessionID, 12)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("Jan 02 15:04:05"), e.Actor, e.Action,
			e.TargetType+"/"+truncate(e.TargetID, 12), sessionID)
	}
	w.Flush()
	fmt.Fprintln(out)
	return nil
}

// printCacheHint tells the operator when a running gateway sees the change.
func printCacheHint() {
	color.New(color.FgHiBlack).Println("  Running gateways apply this within auth.cache_ttl, or at once on SIGHUP.")
}

// maskKey shows only the first characters of an API key.
func maskKey(key string) string {
	if len(key) <= 6 {
		return strings.Repeat("*", len(key))
	}
	return key[:6] + "..."
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
