package authcore

import (
	"context"
	"fmt"

	"github.com/govportal/authcore/internal/audit"
)

// ChangePassword re-verifies the current password, rejects reuse, stores
// the new hash, and terminates every session of the user. The login
// throttle for the account is also cleared so the owner is not locked out
// right after recovering it.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if userID == "" || currentPassword == "" || newPassword == "" {
		return fmt.Errorf("%w: user id, current and new password are required", ErrValidation)
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil || user.UserID == "" {
		return ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	if newPassword == currentPassword {
		return ErrPasswordReuse
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	if err := e.users.UpdatePasswordHash(ctx, userID, newHash); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.limiter.Reset(ctx, user.Username, clientIPFromContext(ctx)); err != nil {
		e.logger.Warn("resetting login throttle after password change", "userId", userID, "error", err)
	}
	if err := e.LogoutAll(ctx, userID); err != nil {
		return err
	}

	e.emitAudit(ctx, audit.Event{
		EventType: EventPasswordChanged,
		UserID:    userID,
		Username:  user.Username,
		Success:   true,
	})
	return nil
}
