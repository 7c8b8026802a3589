// ABOUTME: Stock commands available on every gateway
// ABOUTME: ping, echo, whoami, time and commands

package executor

import (
	"context"
	"time"

	"github.com/2389/zgate/internal/session"
)

// Builtins registers the stock commands on r.
func Builtins(r *Registry) error {
	cmds := []*Command{
		{
			Name:        "ping",
			Description: "Liveness check",
			Handler: func(context.Context, session.Identity, map[string]any) (any, error) {
				return "pong", nil
			},
		},
		{
			Name:        "echo",
			Description: "Return the payload unchanged",
			Handler: func(_ context.Context, _ session.Identity, payload map[string]any) (any, error) {
				return payload, nil
			},
		},
		{
			Name:        "whoami",
			Description: "Describe the calling identity",
			Handler: func(_ context.Context, caller session.Identity, _ map[string]any) (any, error) {
				return map[string]any{
					"id":            caller.ID,
					"username":      caller.Username,
					"role":          caller.Role,
					"authenticated": caller.Authenticated,
				}, nil
			},
		},
		{
			Name:        "time",
			Description: "Server time in RFC3339",
			Handler: func(context.Context, session.Identity, map[string]any) (any, error) {
				return time.Now().UTC().Format(time.RFC3339), nil
			},
		},
		{
			Name:        "commands",
			Description: "List the commands available to the caller",
			Handler: func(_ context.Context, caller session.Identity, _ map[string]any) (any, error) {
				return r.List(caller), nil
			},
		},
	}

	for _, cmd := range cmds {
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}
