// ABOUTME: In-memory validator and collaborator fakes shared by auth tests
// ABOUTME: Counts calls so tests can assert the backend was or was not consulted

package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/2389/zgate/internal/session"
	"github.com/2389/zgate/internal/store"
)

// testSecret meets MinSecretLength.
var testSecret = []byte("test-secret-key-for-jwt-signing-0123")

type fakeValidator struct {
	mu        sync.Mutex
	passwords map[string]string           // username -> password
	users     map[string]session.Identity // username -> identity
	tokens    map[string]session.Identity // token -> identity
	appTokens map[string]session.Identity // app + "/" + token -> identity
	down      bool
	calls     atomic.Int32
}

func newFakeValidator() *fakeValidator {
	return &fakeValidator{
		passwords: map[string]string{"alice": "pw"},
		users: map[string]session.Identity{
			"alice": {ID: "u-alice", Username: "alice", Role: "admin"},
		},
		tokens: map[string]session.Identity{
			"good-token": {ID: "u-alice", Username: "alice", Role: "admin"},
		},
		appTokens: map[string]session.Identity{
			"shop/tok1": {ID: "s-1", Username: "shopper", Role: "customer"},
			"shop/tok2": {ID: "s-2", Username: "shopper2", Role: "vip"},
			"crm/tok3":  {ID: "c-1", Username: "rep", Role: "sales"},
		},
	}
}

func (f *fakeValidator) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeValidator) Authenticate(_ context.Context, username, password string) Result {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return Failure(ReasonBackendUnavailable, errors.New("backend down"))
	}
	if pw, ok := f.passwords[username]; !ok || pw != password {
		return Reject(ReasonInvalidCredentials)
	}
	return Accept(f.users[username])
}

func (f *fakeValidator) Validate(_ context.Context, token string) Result {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return Failure(ReasonBackendUnavailable, errors.New("backend down"))
	}
	id, ok := f.tokens[token]
	if !ok {
		return Reject(ReasonInvalidCredentials)
	}
	return Accept(id)
}

func (f *fakeValidator) ValidateApp(_ context.Context, appName, token string, _ *store.AppSchema) Result {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return Failure(ReasonBackendUnavailable, errors.New("backend down"))
	}
	id, ok := f.appTokens[appName+"/"+token]
	if !ok {
		return Reject(ReasonInvalidCredentials)
	}
	return Accept(id)
}

type fakePrompter struct {
	username, password string
	err                error
	calls              int
}

func (p *fakePrompter) PromptCredentials(_ context.Context, username string) (string, string, error) {
	p.calls++
	if p.err != nil {
		return "", "", p.err
	}
	u := p.username
	if username != "" {
		u = username
	}
	return u, p.password, nil
}

type memCredentialStore struct {
	saved   *SavedCredentials
	deletes int
}

func (m *memCredentialStore) Save(_ context.Context, c SavedCredentials) error {
	m.saved = &c
	return nil
}

func (m *memCredentialStore) Load(_ context.Context) (SavedCredentials, error) {
	if m.saved == nil {
		return SavedCredentials{}, ErrNoSavedCredentials
	}
	return *m.saved, nil
}

func (m *memCredentialStore) Delete(_ context.Context) error {
	m.saved = nil
	m.deletes++
	return nil
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []AuthEvent
}

func (a *recordingAuditor) RecordAuthEvent(_ context.Context, ev AuthEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *recordingAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, ev := range a.events {
		out[i] = ev.Action
	}
	return out
}
