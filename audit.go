package authcore

import (
	"context"

	"github.com/govportal/authcore/internal/audit"
)

// Audit event types emitted by the engine.
const (
	EventLoginSuccess        = "login_success"
	EventLoginFailed         = "login_failed"
	EventLoginRateLimited    = "login_rate_limited"
	EventSecurityBlock       = "security_block"
	EventStepUpRequired      = "stepup_required"
	EventStepUpSetupRequired = "stepup_setup_required"
	EventTwoFactorFailed     = "two_factor_failed"
	EventTwoFactorPassed     = "two_factor_passed"
	EventTokenRefreshed      = "token_refreshed"
	EventLogout              = "logout"
	EventLogoutAll           = "logout_all"
	EventSessionIPMismatch   = "session_ip_mismatch"
	EventSessionInvalidated  = "session_invalidated"
	EventPermissionDenied    = "permission_denied"
	EventPasswordChanged     = "password_changed"
	EventTOTPProvisioned     = "totp_provisioned"
	EventTOTPActivated       = "totp_activated"
	EventTOTPDisabled        = "totp_disabled"
	EventBackupCodesIssued   = "backup_codes_issued"
)

// AuditEvent re-exports the internal event model so custom sinks can be
// written outside this module.
type AuditEvent = audit.Event

// AuditSink is implemented by audit event consumers.
type AuditSink = audit.Sink

// emitAudit fills the network fields from ctx and hands the event to the
// dispatcher. Safe to call when auditing is disabled.
func (e *Engine) emitAudit(ctx context.Context, event audit.Event) {
	if e.audit == nil {
		return
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = userAgentFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

// AuditDropped reports audit events shed under dispatcher backpressure.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}
