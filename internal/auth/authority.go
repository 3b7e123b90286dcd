package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload carried by an access token.
type Claims struct {
	AccountID uint64
	Email     string
	Role      string
}

// FingerprintStore persists the single current refresh-token fingerprint per
// account. Implementations must make ConsumeRefreshFingerprint an atomic
// compare-and-swap: clear the stored value only if it still equals the
// expected hash, reporting whether a swap happened. That CAS is what keeps
// two concurrent refresh calls from both rotating the same token.
type FingerprintStore interface {
	// ReplaceRefreshFingerprint stores hash as the account's current
	// fingerprint, overwriting any previous value.
	ReplaceRefreshFingerprint(ctx context.Context, accountID uint64, hash string) error
	// ConsumeRefreshFingerprint clears the fingerprint iff it equals hash.
	// It returns false when the stored value is absent or different.
	ConsumeRefreshFingerprint(ctx context.Context, accountID uint64, hash string) (bool, error)
	// ClearRefreshFingerprint unconditionally removes the fingerprint.
	ClearRefreshFingerprint(ctx context.Context, accountID uint64) error
}

// Config carries the signing material and lifetimes for both token kinds.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Authority issues and verifies the access/refresh pair. Access tokens are
// stateless HS256 JWTs; refresh tokens are HS256 JWTs signed with a separate
// secret whose SHA-256 digest is stored through the FingerprintStore.
type Authority struct {
	cfg   Config
	store FingerprintStore
	now   func() time.Time
}

// New validates the configuration and returns an Authority. A missing secret
// is a fatal startup error.
func New(cfg Config, store FingerprintStore) (*Authority, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, ErrMissingSecret
	}
	return &Authority{cfg: cfg, store: store, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Fingerprint returns the SHA-256 hex digest of a raw refresh token. Only
// this digest is ever stored; a leaked database row cannot be replayed as a
// token.
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// IssueAccess signs a short-lived access token embedding the account id,
// email and role. It has no side effects.
func (a *Authority) IssueAccess(accountID uint64, email, role string) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(a.cfg.AccessTTL)
	claims := jwt.MapClaims{
		"sub":   accountID,
		"email": email,
		"role":  role,
		"exp":   exp.Unix(),
		"iat":   now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(a.cfg.AccessSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueRefresh signs a long-lived refresh token for the account and stores
// its fingerprint, replacing any previous one. This is the rotation point:
// every refresh token issued earlier for the account stops matching and can
// no longer be consumed, even if unexpired. The random jti keeps two tokens
// minted within the same second from colliding; without it rotation would be
// a no-op whenever iat/exp repeat.
func (a *Authority) IssueRefresh(ctx context.Context, accountID uint64) (string, time.Time, error) {
	jti, err := newJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := a.now()
	exp := now.Add(a.cfg.RefreshTTL)
	claims := jwt.MapClaims{
		"sub": accountID,
		"jti": jti,
		"exp": exp.Unix(),
		"iat": now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(a.cfg.RefreshSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	if err := a.store.ReplaceRefreshFingerprint(ctx, accountID, Fingerprint(signed)); err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyAccess checks signature and expiry of an access token and returns
// its claims. It never touches storage. All failures collapse into
// ErrInvalidToken.
func (a *Authority) VerifyAccess(raw string) (Claims, error) {
	claims, err := a.parse(raw, a.cfg.AccessSecret)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	out := Claims{AccountID: subjectID(claims)}
	if out.AccountID == 0 {
		return Claims{}, ErrInvalidToken
	}
	out.Email, _ = claims["email"].(string)
	out.Role, _ = claims["role"].(string)
	return out, nil
}

// VerifyAndConsumeRefresh validates a refresh token and atomically consumes
// its stored fingerprint, returning the account id. A token can be consumed
// exactly once: a second call with the same token, a token superseded by
// rotation, or a token issued before Revoke all fail with ErrInvalidToken.
// The caller is expected to follow a successful consume with IssueRefresh.
func (a *Authority) VerifyAndConsumeRefresh(ctx context.Context, raw string) (uint64, error) {
	claims, err := a.parse(raw, a.cfg.RefreshSecret)
	if err != nil {
		return 0, ErrInvalidToken
	}
	accountID := subjectID(claims)
	if accountID == 0 {
		return 0, ErrInvalidToken
	}
	ok, err := a.store.ConsumeRefreshFingerprint(ctx, accountID, Fingerprint(raw))
	if err != nil {
		return 0, err
	}
	if !ok {
		// Stale or replayed token: the stored fingerprint moved on.
		return 0, ErrInvalidToken
	}
	return accountID, nil
}

// Revoke clears the account's fingerprint so that no outstanding refresh
// token can be consumed. Used by logout and password change.
func (a *Authority) Revoke(ctx context.Context, accountID uint64) error {
	return a.store.ClearRefreshFingerprint(ctx, accountID)
}

// Authorize reports whether role may perform an operation restricted to the
// required set. An empty set means any authenticated account qualifies.
func Authorize(role string, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if role == r {
			return true
		}
	}
	return false
}

func (a *Authority) parse(raw, secret string) (jwt.MapClaims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// newJTI returns a 128-bit random token id as hex.
func newJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// subjectID pulls the numeric subject out of MapClaims. JSON numbers decode
// as float64.
func subjectID(claims jwt.MapClaims) uint64 {
	switch v := claims["sub"].(type) {
	case float64:
		if v > 0 {
			return uint64(v)
		}
	case uint64:
		return v
	}
	return 0
}
