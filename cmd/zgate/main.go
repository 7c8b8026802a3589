// ABOUTME: Entry point for the zgate realtime auth gateway
// ABOUTME: Dispatches serve, init, account administration, login and health subcommands

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/zgate/internal/config"
	"github.com/2389/zgate/internal/gateway"
	"github.com/2389/zgate/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `
                    _
  ____ __ _  __ _ | |_  ___
 |_  // _' |/ _' || __|/ _ \
  / /| (_| | (_| || |_|  __/
 /___|\__, |\__,_| \__|\___|
      |___/
`

func usage() {
	fmt.Println("Usage: zgate <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                              Start the gateway server")
	fmt.Println("  init                               Create a new config file interactively")
	fmt.Println("  useradd --username U [--role R]    Create a zSession account")
	fmt.Println("  appuser --app A --username U       Issue an application API key")
	fmt.Println("  token --username U                 Issue a bearer token for an account")
	fmt.Println("  users                              List zSession accounts")
	fmt.Println("  disable|enable --username U        Change an account's status")
	fmt.Println("  passwd --username U                Change an account's password")
	fmt.Println("  apps [--app A]                     List application identities")
	fmt.Println("  revoke --id ID                     Revoke an application identity")
	fmt.Println("  audit [--actor A] [--action X]     Show the audit log")
	fmt.Println("  login [--server URL] [--username U] Log in and show the resulting session")
	fmt.Println("  logout                             Forget saved credentials")
	fmt.Println("  health                             Check gateway health")
	fmt.Println()
	fmt.Println("Every command accepts --config PATH (default $ZGATE_CONFIG or ~/.config/zgate/gateway.yaml).")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "init":
		err = runInit(args)
	case "useradd":
		err = runUserAdd(ctx, args)
	case "appuser":
		err = runAppUser(ctx, args)
	case "token":
		err = runToken(ctx, args)
	case "users":
		err = runUsers(ctx, args)
	case "disable":
		err = runUserStatus(ctx, "disable", store.UserDisabled, args)
	case "enable":
		err = runUserStatus(ctx, "enable", store.UserActive, args)
	case "passwd":
		err = runPasswd(ctx, args)
	case "apps":
		err = runAppUsers(ctx, args)
	case "revoke":
		err = runRevoke(ctx, args)
	case "audit":
		err = runAudit(ctx, args)
	case "login":
		err = runLogin(ctx, args)
	case "logout":
		err = runLogout(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set with the shared --config flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet("zgate "+name, flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to the config file")
	return fs, configPath
}

// loadConfig loads path, falling back to defaults plus environment
// overrides when the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured database, creating its directory.
func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o750); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

func runServe(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("serve")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", *configPath)
	green.Print("    ▶ ")
	fmt.Printf("Listen:    %s\n", cfg.Addr())
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Auth:      ")
	if cfg.Auth.RequireAuth {
		cyan.Println("required")
	} else {
		yellow.Println("disabled (guests admitted)")
	}
	green.Print("    ▶ ")
	fmt.Printf("Origins:   ")
	if len(cfg.Auth.AllowedOrigins) == 0 {
		gray.Println("loopback only")
	} else {
		fmt.Println(cfg.Auth.AllowedOrigins)
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	if cfg.Auth.RequireAuth {
		if n, err := countUsers(ctx, cfg); err != nil {
			logger.Warn("could not count users", "error", err)
		} else if n == 0 {
			yellow.Println("    ! No users yet. Create one with: zgate useradd --username NAME")
			fmt.Println()
		}
	}

	logger.Info("starting zgate", "config", *configPath, "addr", cfg.Addr())

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	// SIGHUP applies account changes made with the admin subcommands.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				gw.PurgeCredentialCache()
			case <-ctx.Done():
				return
			}
		}
	}()

	return gw.Run(ctx)
}

func countUsers(ctx context.Context, cfg *config.Config) (int, error) {
	if cfg.Database.Path == ":memory:" {
		return 0, nil
	}
	s, err := openStore(cfg)
	if err != nil {
		return 0, err
	}
	defer s.Close()
	return s.CountUsers(ctx)
}

func runHealth(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("health")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Addr())
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
