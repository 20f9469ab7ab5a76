package session

import (
	"context"

	"github.com/google/uuid"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"
)

const auditSource = "gsc session"

// failReasonUnspecified is accepted by the audit events for failures outside
// the user, token and session categories.
const failReasonUnspecified otlpaudit.FailReason = ""

// auditUser names the user of token, or the service if the token carries no
// profile.
func auditUser(token Token) string {
	switch {
	case token.Profile.Subject != "":
		return token.Profile.Subject
	case token.Profile.Email != "":
		return token.Profile.Email
	default:
		return auditSource
	}
}

// sendLoginSuccessAudit records the login of the token owner on this panel.
func (m *Manager) sendLoginSuccessAudit(ctx context.Context, token Token) {
	if m.audit == nil {
		return
	}

	user := auditUser(token)
	metadata, err := otlpaudit.NewEventMetadata(user, m.id, uuid.NewString())
	if err != nil {
		slogctx.Error(ctx, "creating audit metadata", "error", err)
		return
	}

	event, err := otlpaudit.NewUserLoginSuccessEvent(metadata, user, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.MFATYPE_NONE, otlpaudit.USERTYPE_BUSINESS, m.id)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := m.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login success", "error", err)
		return
	}
	slogctx.Debug(ctx, "sent audit log for user login success")
}

// sendLoginFailureAudit creates the user-login-failure audit event and sends it.
// The user is unknown before the exchange, so the service initiates it.
// Errors are logged, never propagated.
func (m *Manager) sendLoginFailureAudit(ctx context.Context, reason string, failReason otlpaudit.FailReason) {
	if m.audit == nil {
		return
	}

	metadata, err := otlpaudit.NewEventMetadata(auditSource, m.id, uuid.NewString())
	if err != nil {
		slogctx.Error(ctx, "creating audit metadata", "error", err)
		return
	}

	event, err := otlpaudit.NewUserLoginFailureEvent(metadata, m.id, otlpaudit.LOGINMETHOD_OPENIDCONNECT, failReason, m.id+": "+reason)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := m.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login failure", "error", err)
		return
	}
	slogctx.Debug(ctx, "sent audit log for user login failure")
}
