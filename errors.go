package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation indicates malformed or missing request input.
	ErrValidation = errors.New("invalid request input")
	// ErrInvalidCredentials is the generic authentication failure. It covers
	// unknown usernames, inactive accounts, and password mismatches so that
	// callers cannot enumerate accounts from the error.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRateLimited indicates the caller exceeded the login attempt budget.
	ErrRateLimited = errors.New("too many attempts")
	// ErrSecurityBlock indicates the risk scorer blocked the attempt.
	ErrSecurityBlock = errors.New("temporarily blocked due to suspicious activity")
	// ErrTwoFactorInvalid indicates a wrong or replayed TOTP code.
	ErrTwoFactorInvalid = errors.New("invalid two-factor code")
	// ErrBackupCodeInvalid indicates an unknown or already consumed backup code.
	ErrBackupCodeInvalid = errors.New("invalid backup code")
	// ErrSessionExpired indicates an invalid or expired session or refresh
	// token; the client must re-authenticate.
	ErrSessionExpired = errors.New("session expired")
	// ErrTokenInvalid indicates a token that failed signature, expiry, or
	// type checks.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTOTPNotEnrolled indicates the account has no activated TOTP secret.
	ErrTOTPNotEnrolled = errors.New("totp not enrolled")
	// ErrTOTPAlreadyEnrolled indicates a provisioning attempt over an active secret.
	ErrTOTPAlreadyEnrolled = errors.New("totp already enrolled")
	// ErrPasswordPolicy indicates the new password violates the password policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse indicates the new password equals the current one.
	ErrPasswordReuse = errors.New("new password must differ from current password")
	// ErrStoreUnavailable indicates the credential store or session backend
	// failed; surfaced to clients as a generic internal error.
	ErrStoreUnavailable = errors.New("backend store unavailable")
)

// RateLimitError wraps ErrRateLimited with the time until the attempt
// window lapses, so the HTTP layer can set a Retry-After header.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// PermissionError is returned when an RBAC check denies an operation. It
// carries the denied resource and action plus the actions the role does
// hold, which the HTTP layer surfaces in the 403 payload.
type PermissionError struct {
	Role      string
	Resource  string
	Action    string
	Available []string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: role %q lacks %s:%s", e.Role, e.Resource, e.Action)
}

// Required returns the denied permission in "resource:action" form.
func (e *PermissionError) Required() string {
	return e.Resource + ":" + e.Action
}
