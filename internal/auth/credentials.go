package auth

import (
	"crypto/subtle"
	"fmt"
	"sync/atomic"
	"time"
)

// Credentials is the provisioned operator account.
type Credentials struct {
	Username     string
	PasswordHash string
	WorkerID     string
	JWTSecret    string
}

// Valid reports whether every field needed to authenticate is present.
func (c Credentials) Valid() bool {
	return c.Username != "" && c.PasswordHash != "" && c.JWTSecret != ""
}

// Verifier checks Basic credentials and bearer tokens against the
// operator account. The account can be replaced at runtime.
type Verifier struct {
	creds    atomic.Pointer[Credentials]
	tokenTTL time.Duration
	now      func() time.Time
}

// NewVerifier returns a Verifier with no account; every check fails with
// ErrNotProvisioned until SetCredentials is called.
func NewVerifier(tokenTTL time.Duration) *Verifier {
	return &Verifier{tokenTTL: tokenTTL, now: time.Now}
}

// SetCredentials installs the operator account.
func (v *Verifier) SetCredentials(c Credentials) {
	v.creds.Store(&c)
}

// WorkerID returns the provisioned worker id, or "" before provisioning.
func (v *Verifier) WorkerID() string {
	if c := v.creds.Load(); c != nil {
		return c.WorkerID
	}
	return ""
}

// CheckPassword verifies a username and password pair.
func (v *Verifier) CheckPassword(username, password string) error {
	c := v.creds.Load()
	if c == nil || !c.Valid() {
		return ErrNotProvisioned
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Username)) == 1
	passOK, err := VerifyPassword(password, c.PasswordHash)
	if err != nil {
		return fmt.Errorf("checking password: %w", err)
	}
	if !userOK || !passOK {
		return ErrInvalidCredentials
	}
	return nil
}

// CheckToken verifies a bearer token and that it was issued to the
// current operator.
func (v *Verifier) CheckToken(token string) (*Claims, error) {
	c := v.creds.Load()
	if c == nil || !c.Valid() {
		return nil, ErrNotProvisioned
	}

	claims, err := ParseToken(token, []byte(c.JWTSecret))
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(claims.Subject), []byte(c.Username)) != 1 {
		return nil, fmt.Errorf("%w: unknown subject", ErrTokenInvalid)
	}
	return claims, nil
}

// Login checks the password and issues an access token.
func (v *Verifier) Login(username, password string) (string, time.Time, error) {
	if err := v.CheckPassword(username, password); err != nil {
		return "", time.Time{}, err
	}
	c := v.creds.Load()
	return IssueToken(c.Username, c.WorkerID, []byte(c.JWTSecret), v.tokenTTL, v.now())
}
