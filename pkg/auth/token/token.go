// Package token issues and verifies the stateless session tokens used
// by the AutomateIQ gateway.
//
// Tokens are HS256-signed JWTs carrying the account and tenant
// identity. They are valid for seven days by default and are never
// stored server-side: possession of a token with a valid signature is
// the session. Verification distinguishes two failure classes that
// callers treat differently:
//
//   - [ErrTokenExpired]: the signature verified but the token is past
//     its expiry. Clients should re-authenticate.
//   - [ErrInvalidToken]: anything else (malformed input, unknown
//     signing method, signature mismatch). A token signed with the
//     wrong secret is always this, never ErrTokenExpired, because the
//     signature check precedes claim validation.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/automateiq/platform/pkg/account"
)

// DefaultTTL is how long issued tokens stay valid.
const DefaultTTL = 7 * 24 * time.Hour

// DefaultIssuer is the iss claim on issued tokens.
const DefaultIssuer = "automateiq"

var (
	// ErrInvalidToken covers malformed tokens, unknown signing
	// methods, and signature mismatches.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired means the signature verified but the token is
	// past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Claims carries the session identity inside a signed token.
type Claims struct {
	AccountID string `json:"account_id"`
	TenantID  string `json:"tenant_id"`
	Role      string `json:"role"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// Config holds the shared settings for issuing and verifying tokens.
type Config struct {
	// Secret is the HMAC signing key. Required.
	Secret string

	// TTL is the token lifetime. Default: 7 days.
	TTL time.Duration

	// Issuer is the iss claim. Default: "automateiq".
	Issuer string
}

func (c *Config) applyDefaults() {
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
}

// Issuer signs session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewIssuer creates an Issuer. It fails if the secret is empty.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token: secret must not be empty")
	}
	cfg.applyDefaults()
	return &Issuer{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		now:    time.Now,
	}, nil
}

// TTL returns the configured token lifetime. The transport layer uses
// it to align cookie expiry with token expiry.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for the given account. The jti claim is a
// random UUID so every issued token is distinguishable in logs even
// for the same account.
func (i *Issuer) Issue(acct *account.Account) (string, error) {
	now := i.now()
	claims := Claims{
		AccountID: acct.ID,
		TenantID:  acct.TenantID,
		Role:      string(acct.Role),
		Email:     acct.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   acct.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verifier checks session tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a Verifier. It fails if the secret is empty.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token: secret must not be empty")
	}
	cfg.applyDefaults()
	return &Verifier{secret: []byte(cfg.Secret), issuer: cfg.Issuer}, nil
}

// Verify parses and fully validates a token: signature, issuer, and
// expiry. See the package documentation for the error contract.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, v.keyfunc,
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(v.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return v.checkIdentity(claims)
}

// Decode parses a token and verifies its signature but skips claim
// validation, so expired tokens are accepted. Only the refresh flow
// uses this; it re-checks the account and tenant before reissuing.
func (v *Verifier) Decode(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, v.keyfunc,
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return v.checkIdentity(claims)
}

func (v *Verifier) keyfunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return v.secret, nil
}

func (v *Verifier) checkIdentity(claims *Claims) (*Claims, error) {
	if claims.AccountID == "" || claims.TenantID == "" {
		return nil, fmt.Errorf("%w: missing identity claims", ErrInvalidToken)
	}
	return claims, nil
}
