package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newSigner(t *testing.T, secret, arena string, now time.Time) *JoinSigner {
	t.Helper()
	signer, err := NewJoinSigner(secret, arena, time.Second)
	if err != nil {
		t.Fatalf("NewJoinSigner: %v", err)
	}
	signer.WithClock(func() time.Time { return now })
	return signer
}

func TestJoinSignerRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := newSigner(t, "secret", "plains", now)

	token, err := signer.Issue("pilot-7", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "pilot-7" || claims.Arena != "plains" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.Equal(now.Add(time.Minute)) || !claims.IssuedAt.Equal(now) {
		t.Fatalf("unexpected times %+v", claims)
	}
}

func TestJoinSignerRejections(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := newSigner(t, "secret", "plains", now)

	//1.- Expiry honours the leeway.
	expired := newSigner(t, "secret", "plains", now.Add(-time.Minute))
	token, err := expired.Issue("pilot-7", 30*time.Second)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := signer.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}

	//2.- Foreign secrets and arenas are refused.
	other := newSigner(t, "other-secret", "plains", now)
	token, _ = other.Issue("pilot-7", time.Minute)
	if _, err := signer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	elsewhere := newSigner(t, "secret", "canyon", now)
	token, _ = elsewhere.Issue("pilot-7", time.Minute)
	if _, err := signer.Verify(token); !errors.Is(err, ErrWrongArena) {
		t.Fatalf("expected ErrWrongArena, got %v", err)
	}

	//3.- Malformed tokens and foreign algorithms are invalid.
	for _, token := range []string{"a.b", "not.a.token", unsignedToken("none")} {
		if _, err := signer.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", token, err)
		}
	}
	if _, err := signer.Verify(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestJoinSignerAuthenticatesRequests(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := newSigner(t, "secret", "", now)
	token, err := signer.Issue("pilot-9", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest("GET", "/ws?"+TokenQueryParam+"="+token, nil)
	if subject, err := signer.Authenticate(req); err != nil || subject != "pilot-9" {
		t.Fatalf("query token: %q %v", subject, err)
	}
	req = httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set(TokenHeader, token)
	if subject, err := signer.Authenticate(req); err != nil || subject != "pilot-9" {
		t.Fatalf("header token: %q %v", subject, err)
	}
	req = httptest.NewRequest("GET", "/ws", nil)
	if _, err := signer.Authenticate(req); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestNewJoinSignerRequiresSecret(t *testing.T) {
	if _, err := NewJoinSigner("  ", "plains", 0); err == nil {
		t.Fatal("expected an error for a blank secret")
	}
}

// unsignedToken builds a token signed with "secret" but declaring alg.
func unsignedToken(alg string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"alg":%q,"typ":"JWT"}`, alg)))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"pilot-7","exp":1900000000}`))
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(header + "." + payload))
	return strings.Join([]string{header, payload, base64.RawURLEncoding.EncodeToString(mac.Sum(nil))}, ".")
}
