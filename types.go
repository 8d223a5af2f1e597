package authcore

import (
	"context"
	"time"
)

// AccountStatus represents the lifecycle state of a portal account.
type AccountStatus uint8

const (
	// AccountActive allows authentication.
	AccountActive AccountStatus = iota
	// AccountDisabled blocks authentication; the external error stays generic.
	AccountDisabled
)

// UserRecord is the account record returned by [UserProvider]. It carries
// the credential hash, role, status, and two-factor enrollment flag; the
// TOTP secret itself is fetched separately so it never travels with the
// ordinary record.
type UserRecord struct {
	UserID       string
	Username     string
	Email        string
	PasswordHash string
	Role         string
	Status       AccountStatus
	TOTPEnabled  bool
	IsFirstLogin bool
}

// TOTPRecord is retrieved from [UserProvider.GetTOTPSecret]. Secret is the
// base32-encoded shared secret; Verified is set once the owner has proven
// possession by submitting a valid code during enrollment.
type TOTPRecord struct {
	Secret   string
	Enabled  bool
	Verified bool
}

// BackupCodeRecord stores the SHA-256 hash of a single-use backup code.
// The plaintext is shown to the user once and never persisted.
type BackupCodeRecord struct {
	Hash [32]byte
}

// LoginRecord is one entry of an account's recent login history. The risk
// scorer consumes it; the credential store owns its persistence.
type LoginRecord struct {
	IP        string
	UserAgent string
	At        time.Time
	Success   bool
}

// UserProvider is the narrow interface to the portal's user record store.
// The store's own document mechanics are out of scope; the engine only
// reads and writes through these methods.
type UserProvider interface {
	GetUserByUsername(ctx context.Context, username string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error

	RecordLogin(ctx context.Context, userID string, rec LoginRecord) error
	RecentLogins(ctx context.Context, userID string, limit int) ([]LoginRecord, error)

	GetTOTPSecret(ctx context.Context, userID string) (*TOTPRecord, error)
	EnableTOTP(ctx context.Context, userID, secret string) error
	MarkTOTPVerified(ctx context.Context, userID string) error
	DisableTOTP(ctx context.Context, userID string) error

	ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCodeRecord) error
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
}

// TokenPair holds one freshly minted access/refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginRequest is the input to [Engine.Login]. Client network context (IP,
// user agent) travels on the context via [WithClientIP] and [WithUserAgent].
type LoginRequest struct {
	Username       string
	Password       string
	TwoFactorToken string
	UseBackupCode  bool
}

// LoginResult is returned by [Engine.Login]. When a second factor is
// required no tokens or session are present; RequiresTwoFactor or
// RequiresSetup tells the caller which step-up path applies.
type LoginResult struct {
	User      UserRecord
	Tokens    TokenPair
	SessionID string

	RequiresTwoFactor bool
	RequiresSetup     bool
	RiskLevel         RiskLevel
}

// TOTPProvision holds the secret and otpauth:// URI returned by
// [Engine.ProvisionTOTP] for QR display during enrollment.
type TOTPProvision struct {
	Secret string
	URI    string
}
