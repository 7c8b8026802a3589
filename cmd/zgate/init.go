// ABOUTME: Interactive config file generation for zgate
// ABOUTME: Prompts for listener, auth and logging settings and generates a random JWT secret

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/2389/zgate/internal/config"
)

func runInit(args []string) error {
	fs, configPath := newFlagSet("init")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("zgate configuration setup")
	fmt.Println("=========================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", *configPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	defaults := config.Default()

	fmt.Println("\n--- Server Configuration ---")
	host := prompt(reader, "Bind host", defaults.Server.Host)
	port, err := strconv.Atoi(prompt(reader, "Bind port", strconv.Itoa(defaults.Server.Port)))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port")
	}

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaults.Database.Path)

	fmt.Println("\n--- Authentication ---")
	requireAuth := yes(prompt(reader, "Require authentication?", "yes"))
	originsRaw := prompt(reader, "Allowed origins (comma separated, empty for loopback only)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	var origins []string
	for _, o := range strings.Split(originsRaw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	writeConfig(f, configValues{
		host: host, port: port, dbPath: dbPath, requireAuth: requireAuth,
		secret: secret, origins: origins, logLevel: logLevel, logFormat: logFormat,
	})
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  zgate useradd --username admin --role admin")
	fmt.Println("  zgate serve")

	return nil
}

type configValues struct {
	host        string
	port        int
	dbPath      string
	requireAuth bool
	secret      string
	origins     []string
	logLevel    string
	logFormat   string
}

func writeConfig(w io.Writer, v configValues) {
	fmt.Fprintln(w, "# zgate configuration")
	fmt.Fprintln(w, "# Generated by zgate init")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "server:")
	fmt.Fprintf(w, "  host: %q\n", v.host)
	fmt.Fprintf(w, "  port: %d\n", v.port)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "auth:")
	fmt.Fprintf(w, "  require_auth: %t\n", v.requireAuth)
	fmt.Fprintf(w, "  jwt_secret: %q\n", v.secret)
	fmt.Fprintln(w, `  token_ttl: "24h"`)
	fmt.Fprintln(w, `  cache_ttl: "1m"`)
	fmt.Fprintln(w, "  cache_size: 1024")
	if len(v.origins) == 0 {
		fmt.Fprintln(w, "  allowed_origins: []")
	} else {
		fmt.Fprintln(w, "  allowed_origins:")
		for _, o := range v.origins {
			fmt.Fprintf(w, "    - %q\n", o)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "database:")
	fmt.Fprintf(w, "  path: %q\n", v.dbPath)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "gateway:")
	fmt.Fprintln(w, "  max_message_size: 65536")
	fmt.Fprintln(w, "  max_inflight_commands: 16")
	fmt.Fprintln(w, "  send_queue_size: 256")
	fmt.Fprintln(w, `  write_timeout: "10s"`)
	fmt.Fprintln(w, `  ping_interval: "30s"`)
	fmt.Fprintln(w, `  command_timeout: "30s"`)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "logging:")
	fmt.Fprintf(w, "  level: %q\n", v.logLevel)
	fmt.Fprintf(w, "  format: %q\n", v.logFormat)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "metrics:")
	fmt.Fprintln(w, "  enabled: true")
	fmt.Fprintln(w, `  path: "/metrics"`)
}

// generateSecret returns a base64 encoded 32 byte random secret.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func yes(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	return a == "yes" || a == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
