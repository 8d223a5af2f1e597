package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// riskyCtx comes from a device the account has never used, which pushes
// the risk score into the step-up tier on an otherwise valid login.
func riskyCtx() context.Context {
	return clientCtx("192.0.2.99", "unknown-browser/9.9")
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, time.Now().UTC(), totp.ValidateOpts{
		Period: 30,
		Skew:   1,
		Digits: otp.DigitsSix,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom: %v", err)
	}
	return code
}

// enrollTOTP walks a user through provisioning and activation, returning
// the shared secret and the plaintext backup codes.
func enrollTOTP(t *testing.T, engine *Engine, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	prov, err := engine.ProvisionTOTP(ctx, userID)
	if err != nil {
		t.Fatalf("ProvisionTOTP: %v", err)
	}
	if prov.Secret == "" || prov.URI == "" {
		t.Fatalf("incomplete provision: %+v", prov)
	}

	codes, err := engine.ActivateTOTP(ctx, userID, currentCode(t, prov.Secret))
	if err != nil {
		t.Fatalf("ActivateTOTP: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("got %d backup codes, want 10", len(codes))
	}
	return prov.Secret, codes
}

func TestStepUpRequiresSetupWhenNotEnrolled(t *testing.T) {
	provider := newMockProvider()
	user := seedUser(t, provider, "aygul.n", "editor")
	seedHistory(provider, user.UserID, 3)
	engine := newTestEngine(t, provider)

	result, err := engine.Login(riskyCtx(), LoginRequest{
		Username: "aygul.n",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !result.RequiresSetup {
		t.Fatalf("expected setup requirement, got %+v", result)
	}
	if result.Tokens.AccessToken != "" || result.SessionID != "" {
		t.Fatal("tokens or session issued before enrollment")
	}
	if result.RiskLevel == RiskLow {
		t.Fatal("risk level not elevated")
	}
}

func TestStepUpChallengeAndCompletion(t *testing.T) {
	provider := newMockProvider()
	user := seedUser(t, provider, "aygul.n", "editor")
	seedHistory(provider, user.UserID, 3)
	engine := newTestEngine(t, provider)
	secret, _ := enrollTOTP(t, engine, user.UserID)

	// No code submitted: challenge, no tokens.
	result, err := engine.Login(riskyCtx(), LoginRequest{
		Username: "aygul.n",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !result.RequiresTwoFactor {
		t.Fatalf("expected challenge, got %+v", result)
	}
	if result.Tokens.AccessToken != "" {
		t.Fatal("tokens issued before second factor")
	}

	// Wrong code: rejected.
	_, err = engine.Login(riskyCtx(), LoginRequest{
		Username:       "aygul.n",
		Password:       testPassword,
		TwoFactorToken: "000000",
	})
	if !errors.Is(err, ErrTwoFactorInvalid) {
		t.Fatalf("want ErrTwoFactorInvalid, got %v", err)
	}

	// Valid code: full login.
	result, err = engine.Login(riskyCtx(), LoginRequest{
		Username:       "aygul.n",
		Password:       testPassword,
		TwoFactorToken: currentCode(t, secret),
	})
	if err != nil {
		t.Fatalf("Login with code: %v", err)
	}
	if result.Tokens.AccessToken == "" || result.SessionID == "" {
		t.Fatalf("incomplete login result: %+v", result)
	}
}

func TestBackupCodeLoginIsSingleUse(t *testing.T) {
	provider := newMockProvider()
	user := seedUser(t, provider, "aygul.n", "editor")
	seedHistory(provider, user.UserID, 3)
	engine := newTestEngine(t, provider)
	_, codes := enrollTOTP(t, engine, user.UserID)

	// Each attempt comes from a fresh device so every one is risky enough
	// to demand the second factor.
	req := LoginRequest{
		Username:       "aygul.n",
		Password:       testPassword,
		TwoFactorToken: codes[0],
		UseBackupCode:  true,
	}
	if _, err := engine.Login(clientCtx("192.0.2.50", "unknown-browser/1"), req); err != nil {
		t.Fatalf("Login with backup code: %v", err)
	}

	// Replaying the same code fails.
	if _, err := engine.Login(clientCtx("192.0.2.51", "unknown-browser/2"), req); !errors.Is(err, ErrBackupCodeInvalid) {
		t.Fatalf("want ErrBackupCodeInvalid on replay, got %v", err)
	}

	// A different code from the set still works.
	req.TwoFactorToken = codes[1]
	if _, err := engine.Login(clientCtx("192.0.2.52", "unknown-browser/3"), req); err != nil {
		t.Fatalf("Login with second backup code: %v", err)
	}
}

func TestEnrolledUserAlwaysChallenged(t *testing.T) {
	provider := newMockProvider()
	user := seedUser(t, provider, "aygul.n", "editor")
	seedHistory(provider, user.UserID, 3)
	engine := newTestEngine(t, provider)
	secret, _ := enrollTOTP(t, engine, user.UserID)

	// Known device, plenty of history: the risk score stays low, but the
	// enrolled account still gets a challenge.
	ctx := clientCtx(testIP, testUA)
	result, err := engine.Login(ctx, LoginRequest{Username: "aygul.n", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !result.RequiresTwoFactor {
		t.Fatalf("expected challenge, got %+v", result)
	}
	if result.Tokens.AccessToken != "" || result.SessionID != "" {
		t.Fatal("tokens issued before second factor")
	}

	result, err = engine.Login(ctx, LoginRequest{
		Username:       "aygul.n",
		Password:       testPassword,
		TwoFactorToken: currentCode(t, secret),
	})
	if err != nil {
		t.Fatalf("Login with code: %v", err)
	}
	if result.Tokens.AccessToken == "" || result.SessionID == "" {
		t.Fatalf("incomplete login result: %+v", result)
	}
}

func TestProvisionRejectsActiveEnrollment(t *testing.T) {
	provider := newMockProvider()
	user := seedUser(t, provider, "aygul.n", "editor")
	engine := newTestEngine(t, provider)
	enrollTOTP(t, engine, user.UserID)

	if _, err := engine.ProvisionTOTP(context.Background(), user.UserID); !errors.Is(err, ErrTOTPAlreadyEnrolled) {
		t.Fatalf("want ErrTOTPAlreadyEnrolled, got %v", err)
	}
}

func TestActivateRejectsWrongCode(t *testing.T) {
	provider := newMockProvider()
	user := seedUser(t, provider, "aygul.n", "editor")
	engine := newTestEngine(t, provider)

	if _, err := engine.ProvisionTOTP(context.Background(), user.UserID); err != nil {
		t.Fatalf("ProvisionTOTP: %v", err)
	}
	if _, err := engine.ActivateTOTP(context.Background(), user.UserID, "000000"); !errors.Is(err, ErrTwoFactorInvalid) {
		t.Fatalf("want ErrTwoFactorInvalid, got %v", err)
	}
}

func TestDisableTOTPRequiresPasswordAndKillsSessions(t *testing.T) {
	provider := newMockProvider()
	user := seedUser(t, provider, "aygul.n", "editor")
	seedHistory(provider, user.UserID, 3)
	engine := newTestEngine(t, provider)
	secret, _ := enrollTOTP(t, engine, user.UserID)
	ctx := clientCtx(testIP, testUA)

	result, err := engine.Login(ctx, LoginRequest{
		Username:       "aygul.n",
		Password:       testPassword,
		TwoFactorToken: currentCode(t, secret),
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.SessionID == "" {
		t.Fatalf("incomplete login result: %+v", result)
	}

	if err := engine.DisableTOTP(ctx, user.UserID, "wrong-password-999"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("disable with wrong password: %v", err)
	}
	if err := engine.DisableTOTP(ctx, user.UserID, testPassword); err != nil {
		t.Fatalf("DisableTOTP: %v", err)
	}
	if _, err := engine.ValidateSession(ctx, result.SessionID); !errors.Is(err, ErrSessionExpired) {
		t.Fatal("sessions survived two-factor downgrade")
	}

	// Enrollment is gone; a risky login now demands setup again.
	res, err := engine.Login(riskyCtx(), LoginRequest{Username: "aygul.n", Password: testPassword})
	if err != nil {
		t.Fatalf("Login after disable: %v", err)
	}
	if !res.RequiresSetup {
		t.Fatalf("expected setup requirement, got %+v", res)
	}
}

func TestRegenerateBackupCodesInvalidatesOldSet(t *testing.T) {
	provider := newMockProvider()
	user := seedUser(t, provider, "aygul.n", "editor")
	seedHistory(provider, user.UserID, 3)
	engine := newTestEngine(t, provider)
	_, oldCodes := enrollTOTP(t, engine, user.UserID)

	newCodes, err := engine.RegenerateBackupCodes(context.Background(), user.UserID, testPassword)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes: %v", err)
	}
	if len(newCodes) != 10 {
		t.Fatalf("got %d codes, want 10", len(newCodes))
	}

	req := LoginRequest{
		Username:       "aygul.n",
		Password:       testPassword,
		TwoFactorToken: oldCodes[0],
		UseBackupCode:  true,
	}
	if _, err := engine.Login(riskyCtx(), req); !errors.Is(err, ErrBackupCodeInvalid) {
		t.Fatalf("old backup code still accepted: %v", err)
	}
	req.TwoFactorToken = newCodes[0]
	if _, err := engine.Login(riskyCtx(), req); err != nil {
		t.Fatalf("new backup code rejected: %v", err)
	}
}
