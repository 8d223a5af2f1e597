package authcore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/govportal/authcore/internal/audit"
)

// ProvisionTOTP generates a fresh TOTP secret for the user and stores it
// unverified. The returned URI renders as a QR code; the enrollment only
// becomes active once [Engine.ActivateTOTP] sees a valid code.
func (e *Engine) ProvisionTOTP(ctx context.Context, userID string) (*TOTPProvision, error) {
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil || user.UserID == "" {
		return nil, ErrInvalidCredentials
	}

	existing, err := e.users.GetTOTPSecret(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if existing != nil && existing.Enabled && existing.Verified {
		return nil, ErrTOTPAlreadyEnrolled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.TwoFactor.Issuer,
		AccountName: user.Username,
		Period:      uint(e.config.TwoFactor.Period),
		Digits:      otpDigits(e.config.TwoFactor.Digits),
	})
	if err != nil {
		return nil, err
	}

	if err := e.users.EnableTOTP(ctx, userID, key.Secret()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, audit.Event{
		EventType: EventTOTPProvisioned,
		UserID:    userID,
		Username:  user.Username,
		Success:   true,
	})
	return &TOTPProvision{Secret: key.Secret(), URI: key.URL()}, nil
}

// ActivateTOTP completes enrollment by checking one code against the
// provisioned secret. On success it marks the secret verified and issues a
// fresh set of backup codes, returned in plaintext exactly once.
func (e *Engine) ActivateTOTP(ctx context.Context, userID, code string) ([]string, error) {
	rec, err := e.users.GetTOTPSecret(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rec == nil || rec.Secret == "" {
		return nil, ErrTOTPNotEnrolled
	}
	if rec.Verified {
		return nil, ErrTOTPAlreadyEnrolled
	}

	if !e.validateTOTPCode(code, rec.Secret) {
		return nil, ErrTwoFactorInvalid
	}

	if err := e.users.MarkTOTPVerified(ctx, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	codes, err := e.issueBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, audit.Event{
		EventType: EventTOTPActivated,
		UserID:    userID,
		Success:   true,
	})
	return codes, nil
}

// DisableTOTP turns off two-factor for the account after re-verifying the
// password, then terminates every session so stolen cookies cannot ride
// out the downgrade.
func (e *Engine) DisableTOTP(ctx context.Context, userID, currentPassword string) error {
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil || user.UserID == "" {
		return ErrInvalidCredentials
	}
	ok, err := e.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	if err := e.users.DisableTOTP(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.users.ReplaceBackupCodes(ctx, userID, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.LogoutAll(ctx, userID); err != nil {
		return err
	}

	e.emitAudit(ctx, audit.Event{
		EventType: EventTOTPDisabled,
		UserID:    userID,
		Username:  user.Username,
		Success:   true,
	})
	return nil
}

// RegenerateBackupCodes replaces the user's backup codes after password
// re-verification. Previously issued codes stop working immediately.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, currentPassword string) ([]string, error) {
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil || user.UserID == "" {
		return nil, ErrInvalidCredentials
	}
	ok, err := e.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	if !user.TOTPEnabled {
		return nil, ErrTOTPNotEnrolled
	}
	return e.issueBackupCodes(ctx, userID)
}

// verifySecondFactor checks a TOTP code or, when useBackupCode is set, a
// single-use backup code.
func (e *Engine) verifySecondFactor(ctx context.Context, user UserRecord, token string, useBackupCode bool) error {
	if useBackupCode {
		consumed, err := e.users.ConsumeBackupCode(ctx, user.UserID, hashBackupCode(token))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !consumed {
			return ErrBackupCodeInvalid
		}
		return nil
	}

	rec, err := e.users.GetTOTPSecret(ctx, user.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rec == nil || !rec.Enabled || !rec.Verified {
		return ErrTOTPNotEnrolled
	}
	if !e.validateTOTPCode(token, rec.Secret) {
		return ErrTwoFactorInvalid
	}
	return nil
}

func (e *Engine) validateTOTPCode(code, secret string) bool {
	ok, err := totp.ValidateCustom(
		strings.TrimSpace(code),
		secret,
		time.Now().UTC(),
		totp.ValidateOpts{
			Period: uint(e.config.TwoFactor.Period),
			Skew:   e.config.TwoFactor.Skew,
			Digits: otpDigits(e.config.TwoFactor.Digits),
		},
	)
	return err == nil && ok
}

// issueBackupCodes mints a new plaintext code set, stores only the hashes,
// and returns the plaintext for one-time display.
func (e *Engine) issueBackupCodes(ctx context.Context, userID string) ([]string, error) {
	count := e.config.TwoFactor.BackupCodeCount
	codes := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := generateBackupCode()
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		records = append(records, BackupCodeRecord{Hash: hashBackupCode(code)})
	}

	if err := e.users.ReplaceBackupCodes(ctx, userID, records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, audit.Event{
		EventType: EventBackupCodesIssued,
		UserID:    userID,
		Success:   true,
	})
	return codes, nil
}

// Backup codes read as XXXX-XXXX over an unambiguous alphabet (no 0/O,
// 1/I/L).
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

func generateBackupCode() (string, error) {
	raw := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	var b strings.Builder
	for i, c := range raw {
		if i == 4 {
			b.WriteByte('-')
		}
		b.WriteByte(backupCodeAlphabet[int(c)%len(backupCodeAlphabet)])
	}
	return b.String(), nil
}

// hashBackupCode normalizes and hashes a code for storage or lookup.
func hashBackupCode(code string) [32]byte {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
	return sha256.Sum256([]byte(normalized))
}

func otpDigits(n int) otp.Digits {
	if n == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}
