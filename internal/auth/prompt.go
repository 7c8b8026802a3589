// ABOUTME: Interactive credential collection for zSession login
// ABOUTME: TerminalPrompter reads the username from a line and the password without echo

package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrPromptUnavailable is returned when no interactive terminal is attached.
var ErrPromptUnavailable = errors.New("interactive prompt unavailable")

// Prompter collects missing login credentials from a user.
type Prompter interface {
	// PromptCredentials asks for credentials. username is prefilled when known.
	PromptCredentials(ctx context.Context, username string) (string, string, error)
}

// TerminalPrompter prompts on a terminal. The password is read without echo
// when In is a terminal.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter returns a prompter bound to stdin and stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// PromptCredentials implements Prompter.
func (p *TerminalPrompter) PromptCredentials(ctx context.Context, username string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	fd := int(p.In.Fd())
	interactive := term.IsTerminal(fd)

	reader := bufio.NewReader(p.In)
	if username == "" {
		fmt.Fprint(p.Out, "Username: ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", "", fmt.Errorf("reading username: %w", err)
		}
		username = strings.TrimSpace(line)
	}

	fmt.Fprint(p.Out, "Password: ")
	var password string
	if interactive {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(p.Out)
		if err != nil {
			return "", "", fmt.Errorf("reading password: %w", err)
		}
		password = string(raw)
	} else {
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", "", ErrPromptUnavailable
		}
		password = strings.TrimRight(line, "\r\n")
	}
	return username, password, nil
}
