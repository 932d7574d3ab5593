// Package auth verifies the caller identity supplied by the identity
// provider. The engine never manages credentials; it only accepts an
// already-authenticated owner ID, either as a signed JWT bearer token or from a
// header set by a trusted gateway.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when a request carries no valid identity.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Issuer is the iss claim of tokens signed by JWT.
const Issuer = "turn-engine"

// Authenticator extracts the verified owner ID from a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// JWT verifies HS256 bearer tokens. The owner ID is the sub claim and exp
// is required.
type JWT struct {
	secret []byte
	now    func() time.Time
}

func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret), now: time.Now}
}

func (a *JWT) Authenticate(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	return a.Verify(strings.TrimSpace(token))
}

// Verify checks a token and returns its owner ID.
func (a *JWT) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return claims.Subject, nil
}

// Sign issues a token for ownerID that expires after ttl.
func (a *JWT) Sign(ownerID string, ttl time.Duration) (string, error) {
	if ownerID == "" || ttl <= 0 {
		return "", errors.New("auth: token needs an owner and a positive ttl")
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   ownerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Header trusts an owner ID set by an upstream gateway. Only use it behind
// a proxy that strips the header from client requests.
type Header struct {
	Name string
}

func (a Header) Authenticate(r *http.Request) (string, error) {
	name := a.Name
	if name == "" {
		name = "X-Owner-ID"
	}
	if id := strings.TrimSpace(r.Header.Get(name)); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: missing %s header", ErrUnauthenticated, name)
}

type ctxKey struct{}

// WithOwner returns ctx carrying the verified owner ID.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, ownerID)
}

// OwnerFrom returns the owner ID stored by WithOwner.
func OwnerFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
