package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bryanwahyu/grups/src/domain/shared"
)

var (
	ErrMissingToken = errors.New("bearer token required")
	ErrInvalidToken = errors.New("invalid bearer token")
	ErrNoSubject    = errors.New("token has no subject")
)

// Claims are the token fields the service relies on. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// Clock abstracts time for deterministic testing.
type Clock func() time.Time

// Verifier validates HS256 session tokens issued by the account service.
type Verifier struct {
	secret []byte
	issuer string
	Clock  Clock
}

func NewVerifier(secret, issuer string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{
		secret: []byte(secret),
		issuer: issuer,
		Clock:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Verify checks signature, expiry and issuer and returns the caller identity.
func (v *Verifier) Verify(_ context.Context, tokenString string) (shared.UserID, error) {
	if strings.TrimSpace(tokenString) == "" {
		return "", ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.Clock),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	caller := shared.UserID(claims.Subject)
	if caller.Validate() != nil {
		return "", ErrNoSubject
	}
	return caller, nil
}

// Issue signs a token for userID valid for ttl. Used by operator tooling and tests.
func (v *Verifier) Issue(userID shared.UserID, ttl time.Duration) (string, error) {
	if err := userID.Validate(); err != nil {
		return "", err
	}
	now := v.Clock()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   string(userID),
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

type callerKey struct{}

// WithCaller attaches the authenticated caller to ctx.
func WithCaller(ctx context.Context, caller shared.UserID) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller stored by WithCaller, if any.
func CallerFromContext(ctx context.Context) (shared.UserID, bool) {
	caller, ok := ctx.Value(callerKey{}).(shared.UserID)
	return caller, ok && caller != ""
}
