package server

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

func TestAuthenticatorResolvesSubject(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: "s3cret", Issuer: "bondd", Audience: "bonds"}, nil)
	subject := common.HexToAddress("0xa1")
	token, err := IssueToken("s3cret", subject, "bondd", "bonds", time.Minute, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	caller, err := auth.Authenticate(token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if caller != subject {
		t.Fatalf("expected %s, got %s", subject.Hex(), caller.Hex())
	}
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: "s3cret", Issuer: "bondd", ClockSkew: time.Second}, nil)
	subject := common.HexToAddress("0xa1")
	now := time.Now()

	wrongSecret, _ := IssueToken("other", subject, "bondd", "", time.Minute, now)
	wrongIssuer, _ := IssueToken("s3cret", subject, "someone-else", "", time.Minute, now)
	expired, _ := IssueToken("s3cret", subject, "bondd", "", time.Minute, now.Add(-time.Hour))
	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"iss": "bondd",
		"exp": now.Add(time.Minute).Unix(),
	}).SignedString([]byte("s3cret"))
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject.Hex(),
		"iss": "bondd",
	}).SignedString([]byte("s3cret"))

	cases := map[string]string{
		"wrong secret": wrongSecret,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"bad subject":  badSubject,
		"no expiry":    noExpiry,
	}
	for name, token := range cases {
		if _, err := auth.Authenticate(token); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}
}

func TestAuthenticatorWithoutSecretRejects(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	token, err := IssueToken("s3cret", common.HexToAddress("0xa1"), "", "", time.Minute, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := auth.Authenticate(token); err == nil {
		t.Fatalf("expected rejection without a configured secret")
	}
}

func TestExtractBearer(t *testing.T) {
	if got := extractBearer("Bearer abc"); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if got := extractBearer("bearer  xyz "); got != "xyz" {
		t.Fatalf("expected xyz, got %q", got)
	}
	if got := extractBearer("Basic abc"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
