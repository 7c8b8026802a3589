// ABOUTME: Auditor implementation writing manager events to the store's audit log
// ABOUTME: Maps AuthEvent actions onto store.AuditAction values

package auth

import (
	"context"

	"github.com/2389/zgate/internal/session"
	"github.com/2389/zgate/internal/store"
)

// StoreAuditor records AuthEvents in a store.AuditStore.
type StoreAuditor struct {
	store store.AuditStore
}

// NewStoreAuditor creates an auditor over s.
func NewStoreAuditor(s store.AuditStore) *StoreAuditor {
	return &StoreAuditor{store: s}
}

// RecordAuthEvent implements Auditor.
func (a *StoreAuditor) RecordAuthEvent(ctx context.Context, ev AuthEvent) error {
	actor := ev.Username
	if actor == "" {
		actor = session.GuestID
	}
	sid := ev.SessionID

	detail := map[string]any{"context": ev.Context.String()}
	if ev.AppName != "" {
		detail["app"] = ev.AppName
	}
	if ev.Scope != "" {
		detail["scope"] = string(ev.Scope)
	}

	return a.store.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      actor,
		SessionID:  &sid,
		Action:     store.AuditAction(ev.Action),
		TargetType: "session",
		TargetID:   ev.SessionID,
		Detail:     detail,
	})
}
