// Package auth verifies access tokens issued by the hosted identity provider.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthorized indicates a missing, malformed or wrongly signed token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenExpired indicates a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrNotConfigured indicates no verification secret was provided.
	ErrNotConfigured = errors.New("token verification is not configured")
)

// Claims are the identity provider's access token claims the service reads.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

// Verifier checks HS256 access tokens.
type Verifier struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier returns a Verifier for tokens signed with secret. An empty secret rejects
// every token with ErrNotConfigured.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), leeway: 30 * time.Second, now: time.Now}
}

// Configured reports whether tokens can be verified at all.
func (v *Verifier) Configured() bool {
	return v != nil && len(v.secret) > 0
}

// Verify parses token and returns the caller it names.
func (v *Verifier) Verify(token string) (Identity, error) {
	if !v.Configured() {
		return Identity{}, ErrNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: claims.Subject, Email: strings.ToLower(claims.Email)}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type identityKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}
