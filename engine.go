package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/govportal/authcore/internal/audit"
	"github.com/govportal/authcore/internal/metrics"
	"github.com/govportal/authcore/internal/rate"
	"github.com/govportal/authcore/jwt"
	"github.com/govportal/authcore/password"
	"github.com/govportal/authcore/permission"
	"github.com/govportal/authcore/session"
)

// Engine is the portal's authentication core. Build one with [NewBuilder],
// call [Engine.Start] to launch background maintenance, and [Engine.Close]
// on shutdown.
type Engine struct {
	config   Config
	users    UserProvider
	sessions session.Store
	limiter  rate.Limiter
	tokens   *jwt.Manager
	hasher   *password.Hasher
	perms    *permission.Matrix
	audit    *audit.Dispatcher
	metrics  *metrics.Set
	janitor  *session.Janitor
	logger   *slog.Logger

	// decoyHash absorbs a full argon2id verification for unknown usernames
	// so response timing does not reveal whether an account exists.
	decoyHash string
}

// Start launches the session janitor. Calling Start twice is a no-op.
func (e *Engine) Start(ctx context.Context) {
	if e.janitor != nil {
		e.janitor.Start(ctx)
	}
}

// Close stops background work and flushes pending audit events.
func (e *Engine) Close() {
	if e.janitor != nil {
		e.janitor.Stop()
	}
	e.audit.Close()
}

// Login runs the full authentication flow: throttle check, credential
// verification, anomaly risk scoring, adaptive two-factor step-up, then
// session creation and token issuance. Client IP and user agent travel on
// ctx via [WithClientIP] and [WithUserAgent].
//
// A LoginResult with RequiresTwoFactor or RequiresSetup set carries no
// tokens; the caller must re-submit with a second factor or send the user
// to enrollment.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveLoginDuration(time.Since(start).Seconds())
	}()

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrValidation)
	}
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)

	if retryAfter, err := e.limiter.Check(ctx, username, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metrics.RateLimited()
			e.metrics.LoginAttempt("rate_limited")
			e.emitAudit(ctx, audit.Event{
				EventType: EventLoginRateLimited,
				Username:  username,
			})
			return nil, &RateLimitError{RetryAfter: retryAfter}
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	user, found, err := e.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if !found {
		// Burn the same hashing cost as a real verification.
		_, _ = e.hasher.Verify(req.Password, e.decoyHash)
		return nil, e.failLogin(ctx, UserRecord{Username: username}, "unknown_username")
	}

	passwordOK, err := e.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		e.logger.Error("credential hash unreadable", "userId", user.UserID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if passwordOK && user.Status != AccountActive {
		// Externally indistinguishable from a wrong password.
		return nil, e.failLogin(ctx, user, "account_inactive")
	}

	assessment := e.assessAttempt(ctx, user, ip, userAgent, passwordOK)
	e.metrics.RiskAssessed(string(assessment.Level))

	if !passwordOK {
		e.recordAttempt(ctx, user, ip, userAgent, false)
		if e.config.Security.RiskBlockEnabled && assessment.ShouldBlock {
			e.metrics.LoginAttempt("blocked")
			e.emitAudit(ctx, audit.Event{
				EventType: EventSecurityBlock,
				UserID:    user.UserID,
				Username:  user.Username,
				RiskLevel: string(assessment.Level),
			})
			return nil, ErrSecurityBlock
		}
		return nil, e.failLogin(ctx, user, "wrong_password")
	}

	// Enrolled accounts always present a second factor; unenrolled ones
	// only when risk forces the step-up.
	if user.TOTPEnabled || assessment.ShouldRequire2FA {
		result, done, err := e.stepUp(ctx, user, req, assessment)
		if done || err != nil {
			return result, err
		}
	}

	return e.completeLogin(ctx, user, ip, userAgent, assessment)
}

// lookupUser distinguishes "not found" from backend failure.
func (e *Engine) lookupUser(ctx context.Context, username string) (UserRecord, bool, error) {
	user, err := e.users.GetUserByUsername(ctx, username)
	if err != nil {
		if isNotFound(err) {
			return UserRecord{}, false, nil
		}
		return UserRecord{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user.UserID == "" {
		return UserRecord{}, false, nil
	}
	return user, true, nil
}

// failLogin records a failed attempt against the throttle and audit trail
// and returns the generic credential error.
func (e *Engine) failLogin(ctx context.Context, user UserRecord, reason string) error {
	ip := clientIPFromContext(ctx)
	if err := e.limiter.RecordFailure(ctx, user.Username, ip); err != nil {
		e.logger.Warn("recording login failure", "error", err)
	}
	e.metrics.LoginAttempt("failed")
	e.emitAudit(ctx, audit.Event{
		EventType: EventLoginFailed,
		UserID:    user.UserID,
		Username:  user.Username,
		Error:     reason,
	})
	return ErrInvalidCredentials
}

// assessAttempt pulls the recent login history and scores the attempt. A
// history read failure degrades to an empty history rather than failing
// the login.
func (e *Engine) assessAttempt(ctx context.Context, user UserRecord, ip, userAgent string, succeeded bool) RiskAssessment {
	history, err := e.users.RecentLogins(ctx, user.UserID, e.config.Security.RiskHistoryDepth)
	if err != nil {
		e.logger.Warn("login history unavailable, scoring without it", "userId", user.UserID, "error", err)
		history = nil
	}
	if user.IsFirstLogin {
		history = nil
	}
	return AssessRisk(RiskInput{
		UserID:    user.UserID,
		IP:        ip,
		UserAgent: userAgent,
		Succeeded: succeeded,
		Now:       time.Now(),
		History:   history,
	})
}

// stepUp applies the adaptive two-factor policy. done=true means the flow
// ends here (challenge issued or factor rejected); done=false means the
// submitted factor was verified and login may complete.
func (e *Engine) stepUp(ctx context.Context, user UserRecord, req LoginRequest, assessment RiskAssessment) (*LoginResult, bool, error) {
	if !user.TOTPEnabled {
		e.metrics.StepUpChallenge("setup_required")
		e.emitAudit(ctx, audit.Event{
			EventType: EventStepUpSetupRequired,
			UserID:    user.UserID,
			Username:  user.Username,
			RiskLevel: string(assessment.Level),
		})
		return &LoginResult{
			User:          user,
			RequiresSetup: true,
			RiskLevel:     assessment.Level,
		}, true, nil
	}

	if req.TwoFactorToken == "" {
		e.metrics.StepUpChallenge("challenged")
		e.emitAudit(ctx, audit.Event{
			EventType: EventStepUpRequired,
			UserID:    user.UserID,
			Username:  user.Username,
			RiskLevel: string(assessment.Level),
		})
		return &LoginResult{
			User:              user,
			RequiresTwoFactor: true,
			RiskLevel:         assessment.Level,
		}, true, nil
	}

	if err := e.verifySecondFactor(ctx, user, req.TwoFactorToken, req.UseBackupCode); err != nil {
		e.metrics.StepUpChallenge("failed")
		if recordErr := e.limiter.RecordFailure(ctx, user.Username, clientIPFromContext(ctx)); recordErr != nil {
			e.logger.Warn("recording two-factor failure", "error", recordErr)
		}
		e.emitAudit(ctx, audit.Event{
			EventType: EventTwoFactorFailed,
			UserID:    user.UserID,
			Username:  user.Username,
		})
		return nil, true, err
	}

	e.metrics.StepUpChallenge("passed")
	e.emitAudit(ctx, audit.Event{
		EventType: EventTwoFactorPassed,
		UserID:    user.UserID,
		Username:  user.Username,
		Success:   true,
	})
	return nil, false, nil
}

// completeLogin resets the throttle, records history, opens a session and
// mints the token pair.
func (e *Engine) completeLogin(ctx context.Context, user UserRecord, ip, userAgent string, assessment RiskAssessment) (*LoginResult, error) {
	if err := e.limiter.Reset(ctx, user.Username, ip); err != nil {
		e.logger.Warn("resetting login throttle", "userId", user.UserID, "error", err)
	}
	e.recordAttempt(ctx, user, ip, userAgent, true)

	sess, err := e.sessions.Create(ctx, user.UserID, session.RequestInfo{IP: ip, UserAgent: userAgent})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metrics.SessionOpened()

	tokens, err := e.mintTokens(user)
	if err != nil {
		return nil, err
	}

	e.metrics.LoginAttempt("success")
	e.emitAudit(ctx, audit.Event{
		EventType: EventLoginSuccess,
		UserID:    user.UserID,
		Username:  user.Username,
		SessionID: sess.SessionID,
		RiskLevel: string(assessment.Level),
		Success:   true,
	})

	return &LoginResult{
		User:      user,
		Tokens:    tokens,
		SessionID: sess.SessionID,
		RiskLevel: assessment.Level,
	}, nil
}

func (e *Engine) recordAttempt(ctx context.Context, user UserRecord, ip, userAgent string, success bool) {
	if user.UserID == "" {
		return
	}
	err := e.users.RecordLogin(ctx, user.UserID, LoginRecord{
		IP:        ip,
		UserAgent: userAgent,
		At:        time.Now(),
		Success:   success,
	})
	if err != nil {
		e.logger.Warn("recording login history", "userId", user.UserID, "error", err)
	}
}

func (e *Engine) mintTokens(user UserRecord) (TokenPair, error) {
	access, err := e.tokens.CreateAccess(user.UserID, user.Username, user.Role)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := e.tokens.CreateRefresh(user.UserID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh exchanges a valid refresh token for a fresh token pair. The user
// record is re-read so a role change or deactivation takes effect at the
// next refresh, and the refresh token is rotated with a full TTL starting
// now — there is no absolute horizon beyond each token's own lifetime.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		e.metrics.Refresh("rejected")
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	user, err := e.users.GetUserByID(ctx, claims.UserID)
	if err != nil || user.UserID == "" {
		e.metrics.Refresh("rejected")
		return nil, ErrSessionExpired
	}
	if user.Status != AccountActive {
		e.metrics.Refresh("rejected")
		return nil, ErrSessionExpired
	}

	tokens, err := e.mintTokens(user)
	if err != nil {
		return nil, err
	}

	e.metrics.Refresh("rotated")
	e.emitAudit(ctx, audit.Event{
		EventType: EventTokenRefreshed,
		UserID:    user.UserID,
		Username:  user.Username,
		Success:   true,
	})
	return &tokens, nil
}

// Logout invalidates one session. Unknown session IDs succeed silently.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrValidation)
	}
	if err := e.sessions.Invalidate(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metrics.SessionClosed()
	e.emitAudit(ctx, audit.Event{
		EventType: EventLogout,
		SessionID: sessionID,
		Success:   true,
	})
	return nil
}

// LogoutAll invalidates every active session of the user.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if err := e.sessions.InvalidateAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.emitAudit(ctx, audit.Event{
		EventType: EventLogoutAll,
		UserID:    userID,
		Success:   true,
	})
	return nil
}

// ValidateSession checks the session registry and applies the configured
// IP-mismatch policy. On success the session's LastActivity is bumped and
// a copy returned.
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	info := session.RequestInfo{
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	}

	sess, err := e.sessions.Validate(ctx, sessionID, info)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if sess == nil {
		return nil, ErrSessionExpired
	}

	if info.IP != "" && sess.IPAddress != "" && info.IP != sess.IPAddress {
		e.emitAudit(ctx, audit.Event{
			EventType: EventSessionIPMismatch,
			UserID:    sess.UserID,
			SessionID: sess.SessionID,
			Metadata:  map[string]string{"sessionIp": sess.IPAddress},
		})
		switch e.config.Session.IPMismatchPolicy {
		case IPMismatchInvalidate:
			if err := e.sessions.Invalidate(ctx, sessionID); err != nil {
				e.logger.Warn("invalidating mismatched session", "sessionId", sessionID, "error", err)
			}
			e.metrics.SessionClosed()
			e.emitAudit(ctx, audit.Event{
				EventType: EventSessionInvalidated,
				UserID:    sess.UserID,
				SessionID: sess.SessionID,
			})
			return nil, ErrSessionExpired
		default:
			e.logger.Warn("session ip mismatch",
				"sessionId", sess.SessionID,
				"userId", sess.UserID,
				"sessionIp", sess.IPAddress,
				"requestIp", info.IP,
			)
		}
	}

	return sess, nil
}

// ValidateAccess parses and validates an access token.
func (e *Engine) ValidateAccess(tokenStr string) (*jwt.AccessClaims, error) {
	claims, err := e.tokens.ParseAccess(tokenStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims, nil
}

// Sessions lists the user's active sessions, most useful for the account
// security page.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]*session.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	out, err := e.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

// Authorize checks the role/resource/action triple against the permission
// matrix. Denials come back as a *PermissionError.
func (e *Engine) Authorize(role, resource, action string) error {
	r := permission.Role(role)
	if e.perms.Has(r, permission.Resource(resource), permission.Action(action)) {
		return nil
	}
	e.metrics.PermissionDenied(resource)
	return &PermissionError{
		Role:      role,
		Resource:  resource,
		Action:    action,
		Available: e.perms.ActionsFor(r, permission.Resource(resource)),
	}
}

// Permissions exposes the engine's frozen permission matrix.
func (e *Engine) Permissions() *permission.Matrix {
	return e.perms
}

// isNotFound matches provider-side not-found errors by convention: any
// error whose chain or text says "not found".
func isNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not found")
}
