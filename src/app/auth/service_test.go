package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bryanwahyu/grups/src/app/auth"
	"github.com/bryanwahyu/grups/src/domain/shared"
)

func fixedClock(t time.Time) auth.Clock {
	return func() time.Time { return t }
}

func TestVerifier_Verify(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	verifier, err := auth.NewVerifier("s3cret", "grups")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	verifier.Clock = fixedClock(now)

	other, _ := auth.NewVerifier("other-secret", "grups")
	other.Clock = fixedClock(now)

	wrongIssuer, _ := auth.NewVerifier("s3cret", "someone-else")
	wrongIssuer.Clock = fixedClock(now)

	valid, err := verifier.Issue("u1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	expired, _ := verifier.Issue("u1", -time.Minute)
	foreign, _ := other.Issue("u1", time.Hour)
	badIssuer, _ := wrongIssuer.Issue("u1", time.Hour)
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "grups",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString([]byte("s3cret"))
	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "grups",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		token   string
		want    shared.UserID
		wantErr error
	}{
		{name: "valid token", token: valid, want: "u1"},
		{name: "empty token", token: "", wantErr: auth.ErrMissingToken},
		{name: "expired", token: expired, wantErr: auth.ErrInvalidToken},
		{name: "wrong secret", token: foreign, wantErr: auth.ErrInvalidToken},
		{name: "wrong issuer", token: badIssuer, wantErr: auth.ErrInvalidToken},
		{name: "alg none", token: noneAlg, wantErr: auth.ErrInvalidToken},
		{name: "missing subject", token: noSubject, wantErr: auth.ErrNoSubject},
		{name: "garbage", token: "not-a-jwt", wantErr: auth.ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := verifier.Verify(ctx, tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected caller %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	if _, err := auth.NewVerifier("  ", ""); err == nil {
		t.Fatal("expected error for blank secret")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{header: "bearer   abc", want: "abc"},
		{header: "Basic abc", wantErr: true},
		{header: "Bearer ", wantErr: true},
		{header: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := auth.BearerToken(tt.header)
		if tt.wantErr {
			if !errors.Is(err, auth.ErrMissingToken) {
				t.Errorf("%q: expected ErrMissingToken, got %v", tt.header, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q: got (%q, %v), want %q", tt.header, got, err, tt.want)
		}
	}
}

func TestCallerContext(t *testing.T) {
	if _, ok := auth.CallerFromContext(context.Background()); ok {
		t.Fatal("expected no caller in empty context")
	}
	ctx := auth.WithCaller(context.Background(), "u7")
	caller, ok := auth.CallerFromContext(ctx)
	if !ok || caller != "u7" {
		t.Fatalf("got (%q, %v)", caller, ok)
	}
}
