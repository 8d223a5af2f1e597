// Package cookie writes and reads the portal's auth cookies. All values,
// the CSRF token included, are sealed with an authenticated codec before
// they touch the wire. The CSRF token uses the double-submit pattern: the
// login response body hands the front end the plaintext token, which comes
// back in a header and is compared against the opened cookie value in
// constant time.
package cookie

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// Cookie names shared with the portal front end.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
	CSRFTokenCookie    = "csrfToken"
)

// Lifetimes match the tokens they carry.
const (
	AccessTokenMaxAge  = 15 * time.Minute
	RefreshTokenMaxAge = 7 * 24 * time.Hour
	CSRFTokenMaxAge    = 24 * time.Hour
)

const csrfTokenBytes = 32

var (
	// ErrNoCookie means the request carried no such cookie.
	ErrNoCookie = errors.New("auth cookie missing")
	// ErrCSRFMismatch means the header token did not match the cookie.
	ErrCSRFMismatch = errors.New("csrf token mismatch")
)

// Config keys the codec. HashKey must be 32 or 64 bytes; BlockKey, when
// set, must be 16, 24 or 32 bytes and turns on encryption of cookie
// values. DevMode drops the Secure flag for plain-HTTP local work.
type Config struct {
	HashKey  []byte
	BlockKey []byte
	Domain   string
	DevMode  bool
}

// Codec seals token values into cookies and opens them again.
type Codec struct {
	sc      *securecookie.SecureCookie
	domain  string
	devMode bool
}

// New validates the keys and builds a Codec.
func New(cfg Config) (*Codec, error) {
	switch len(cfg.HashKey) {
	case 32, 64:
	default:
		return nil, errors.New("cookie hash key must be 32 or 64 bytes")
	}
	if cfg.BlockKey != nil {
		switch len(cfg.BlockKey) {
		case 16, 24, 32:
		default:
			return nil, errors.New("cookie block key must be 16, 24 or 32 bytes")
		}
	}

	sc := securecookie.New(cfg.HashKey, cfg.BlockKey)
	sc.MaxAge(int(RefreshTokenMaxAge / time.Second))
	return &Codec{
		sc:      sc,
		domain:  cfg.Domain,
		devMode: cfg.DevMode,
	}, nil
}

// SetAccessToken seals the access JWT into its cookie.
func (c *Codec) SetAccessToken(w http.ResponseWriter, token string) error {
	return c.setSealed(w, AccessTokenCookie, token, AccessTokenMaxAge, http.SameSiteLaxMode, "/")
}

// SetRefreshToken seals the refresh JWT into its cookie. Scoped to the
// refresh path and SameSite=Strict so no cross-site navigation carries it.
func (c *Codec) SetRefreshToken(w http.ResponseWriter, token string) error {
	return c.setSealed(w, RefreshTokenCookie, token, RefreshTokenMaxAge, http.SameSiteStrictMode, "/auth/refresh")
}

// AccessToken opens the access token cookie. Returns ErrNoCookie when
// absent; a decode failure means tampering or a rotated key.
func (c *Codec) AccessToken(r *http.Request) (string, error) {
	return c.getSealed(r, AccessTokenCookie)
}

// RefreshToken opens the refresh token cookie.
func (c *Codec) RefreshToken(r *http.Request) (string, error) {
	return c.getSealed(r, RefreshTokenCookie)
}

// IssueCSRFToken mints a random token and sets it, sealed, as an HttpOnly
// cookie. The caller returns the plaintext value in the login response
// body; the front end mirrors that copy into the X-CSRF-Token header on
// mutating calls.
func (c *Codec) IssueCSRFToken(w http.ResponseWriter) (string, error) {
	raw := make([]byte, csrfTokenBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	sealed, err := c.sc.Encode(CSRFTokenCookie, token)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFTokenCookie,
		Value:    sealed,
		Path:     "/",
		Domain:   c.domain,
		MaxAge:   int(CSRFTokenMaxAge / time.Second),
		Secure:   !c.devMode,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// VerifyCSRF opens the sealed cookie token and compares it with the header
// token in constant time.
func (c *Codec) VerifyCSRF(r *http.Request, headerToken string) error {
	cookieToken, err := c.getSealed(r, CSRFTokenCookie)
	if err != nil {
		if errors.Is(err, ErrNoCookie) {
			return ErrNoCookie
		}
		return ErrCSRFMismatch
	}
	if headerToken == "" {
		return ErrCSRFMismatch
	}
	if subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) != 1 {
		return ErrCSRFMismatch
	}
	return nil
}

// Clear expires every auth cookie. Used on logout.
func (c *Codec) Clear(w http.ResponseWriter) {
	for _, spec := range []struct {
		name, path string
	}{
		{AccessTokenCookie, "/"},
		{RefreshTokenCookie, "/auth/refresh"},
		{CSRFTokenCookie, "/"},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     spec.name,
			Value:    "",
			Path:     spec.path,
			Domain:   c.domain,
			MaxAge:   -1,
			Secure:   !c.devMode,
			HttpOnly: true,
		})
	}
}

func (c *Codec) setSealed(w http.ResponseWriter, name, value string, maxAge time.Duration, sameSite http.SameSite, path string) error {
	sealed, err := c.sc.Encode(name, value)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    sealed,
		Path:     path,
		Domain:   c.domain,
		MaxAge:   int(maxAge / time.Second),
		Secure:   !c.devMode,
		HttpOnly: true,
		SameSite: sameSite,
	})
	return nil
}

func (c *Codec) getSealed(r *http.Request, name string) (string, error) {
	ck, err := r.Cookie(name)
	if err != nil {
		return "", ErrNoCookie
	}
	var value string
	if err := c.sc.Decode(name, ck.Value, &value); err != nil {
		return "", err
	}
	return value, nil
}
