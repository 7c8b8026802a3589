// ABOUTME: Persistent storage of remembered zSession credentials
// ABOUTME: YAML file written with owner-only permissions under the user config dir

package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNoSavedCredentials is returned by Load when nothing has been saved.
var ErrNoSavedCredentials = errors.New("no saved credentials")

// SavedCredentials is what a remembered login persists.
type SavedCredentials struct {
	ServerURL string `yaml:"server_url,omitempty"`
	ID        string `yaml:"id"`
	Username  string `yaml:"username"`
	Role      string `yaml:"role"`
	Token     string `yaml:"token,omitempty"`
}

// CredentialStore persists remembered credentials between runs.
type CredentialStore interface {
	Save(ctx context.Context, c SavedCredentials) error
	Load(ctx context.Context) (SavedCredentials, error)
	Delete(ctx context.Context) error
}

// FileCredentialStore keeps credentials in a single YAML file.
type FileCredentialStore struct {
	path string
}

// NewFileCredentialStore returns a store backed by path.
func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path}
}

// DefaultCredentialsPath returns ~/.config/zgate/credentials.yaml, honoring
// XDG_CONFIG_HOME.
func DefaultCredentialsPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "zgate", "credentials.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "zgate", "credentials.yaml"), nil
}

// Path returns the backing file path.
func (s *FileCredentialStore) Path() string {
	return s.path
}

// Save writes c, replacing any previous file.
func (s *FileCredentialStore) Save(_ context.Context, c SavedCredentials) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating credentials dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing credentials: %w", err)
	}
	return nil
}

// Load reads the saved credentials.
func (s *FileCredentialStore) Load(_ context.Context) (SavedCredentials, error) {
	var c SavedCredentials
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return c, ErrNoSavedCredentials
	}
	if err != nil {
		return c, fmt.Errorf("reading credentials: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parsing credentials: %w", err)
	}
	return c, nil
}

// Delete removes the saved credentials. Deleting nothing is not an error.
func (s *FileCredentialStore) Delete(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}
