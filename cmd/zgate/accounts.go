// ABOUTME: Account management subcommands: useradd, appuser and token
// ABOUTME: Write zSession users and application identities straight to the configured store

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/zgate/internal/auth"
	"github.com/2389/zgate/internal/store"
)

// systemActor is the audit actor for changes made from the CLI.
const systemActor = "system"

func runUserAdd(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("useradd")
	username := fs.String("username", "", "account username (required)")
	role := fs.String("role", "user", "account role")
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

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Username:     name,
		PasswordHash: string(hash),
		Role:         *role,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrUsernameExists) {
			return fmt.Errorf("user %q already exists", name)
		}
		return fmt.Errorf("creating user: %w", err)
	}
	recordAudit(ctx, s, store.AuditCreateUser, "user", user.ID, map[string]any{"username": name, "role": user.Role})

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Created user %s (role %s, id %s)\n", user.Username, user.Role, user.ID)
	return nil
}

func runAppUser(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("appuser")
	app := fs.String("app", "", "application name (required)")
	username := fs.String("username", "", "application username (required)")
	role := fs.String("role", "user", "application role")
	if err := fs.Parse(args); err != nil {
		return err
	}
	appName, name := strings.TrimSpace(*app), strings.TrimSpace(*username)
	if appName == "" || name == "" {
		return errors.New("--app and --username are required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	key, err := generateAPIKey()
	if err != nil {
		return err
	}

	id := &store.AppIdentity{AppName: appName, Username: name, Role: *role, APIKey: key}
	if err := s.CreateAppIdentity(ctx, id); err != nil {
		return fmt.Errorf("creating application identity: %w", err)
	}
	recordAudit(ctx, s, store.AuditCreateAppUser, "app_user", id.ID, map[string]any{"app": appName, "username": name})

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Print("✓ ")
	fmt.Printf("Created %s identity %s (role %s)\n\n", appName, name, id.Role)
	fmt.Println("API key:")
	fmt.Printf("  %s\n\n", key)
	yellow.Println("Store this key now; it cannot be shown again.")
	return nil
}

func runToken(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("token")
	username := fs.String("username", "", "account username (required)")
	ttl := fs.Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	name := strings.TrimSpace(*username)
	if name == "" {
		return errors.New("--username is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("auth.jwt_secret: %w", err)
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.GetUserByUsername(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("user %q not found", name)
	}
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}
	if user.Status == store.UserDisabled {
		return fmt.Errorf("user %q is disabled", name)
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.Auth.TokenTTL
	}
	token, err := verifier.Generate(user.ID, lifetime)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	recordAudit(ctx, s, store.AuditCreateToken, "user", user.ID, map[string]any{"ttl": lifetime.String()})

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(lifetime).Format(time.RFC3339))
	return nil
}

// generateAPIKey returns 32 random bytes, URL-safe base64 encoded.
func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating API key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// recordAudit appends a CLI audit entry. Failures are reported, not fatal.
func recordAudit(ctx context.Context, s store.AuditStore, action store.AuditAction, targetType, targetID string, detail map[string]any) {
	err := s.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      systemActor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Detail:     detail,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: audit entry not recorded: %v\n", err)
	}
}
