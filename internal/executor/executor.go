// ABOUTME: Thread-safe command registry implementing the gateway's command executor
// ABOUTME: Role-gated lookup and dispatch of named command handlers

package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/2389/zgate/internal/session"
)

// ErrUnknownCommand is returned when no command has the requested name.
var ErrUnknownCommand = errors.New("unknown command")

// ErrCommandCollision is returned when registering a name twice.
var ErrCommandCollision = errors.New("command already registered")

// ErrForbidden is returned when the caller lacks a required role.
var ErrForbidden = errors.New("forbidden")

// Handler runs one command. payload holds every field of the inbound
// message except the command key.
type Handler func(ctx context.Context, caller session.Identity, payload map[string]any) (any, error)

// Command is a named, optionally role-gated handler.
type Command struct {
	Name        string
	Description string
	// Roles, when non-empty, lists the roles allowed to run the command.
	Roles   []string
	Handler Handler
}

// Info is the public description of a command.
type Info struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

// Registry maps command names to commands.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		commands: make(map[string]*Command),
		logger:   logger.With("component", "executor"),
	}
}

// Register adds cmd. Names must be unique.
func (r *Registry) Register(cmd *Command) error {
	if cmd == nil || cmd.Name == "" || cmd.Handler == nil {
		return errors.New("command needs a name and a handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[cmd.Name]; exists {
		return fmt.Errorf("%w: %s", ErrCommandCollision, cmd.Name)
	}
	r.commands[cmd.Name] = cmd
	r.logger.Debug("command registered", "command", cmd.Name)
	return nil
}

// MustRegister is Register that panics on error, for static setup.
func (r *Registry) MustRegister(cmd *Command) {
	if err := r.Register(cmd); err != nil {
		panic(err)
	}
}

// Execute runs the command named key for caller.
func (r *Registry) Execute(ctx context.Context, key string, payload map[string]any, caller session.Identity) (any, error) {
	r.mu.RLock()
	cmd, ok := r.commands[key]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, key)
	}
	if !allowed(cmd, caller) {
		r.logger.Info("command denied", "command", key, "user", caller.DisplayName(), "role", caller.Role)
		return nil, fmt.Errorf("%w: %s", ErrForbidden, key)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return cmd.Handler(ctx, caller, payload)
}

// List returns the commands caller may run, sorted by name.
func (r *Registry) List(caller session.Identity) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.commands))
	for _, cmd := range r.commands {
		if !allowed(cmd, caller) {
			continue
		}
		out = append(out, Info{Name: cmd.Name, Description: cmd.Description, Roles: cmd.Roles})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func allowed(cmd *Command, caller session.Identity) bool {
	if len(cmd.Roles) == 0 {
		return true
	}
	return caller.Authenticated && slices.Contains(cmd.Roles, caller.Role)
}
