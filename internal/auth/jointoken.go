// Package auth signs and checks the join tokens that gate websocket
// connections. Tokens are compact HS256 JWTs whose subject names the player
// and whose audience names the arena.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrWrongArena is returned when a token was issued for another arena.
	ErrWrongArena = errors.New("token issued for another arena")
	// ErrMissingToken is returned when a request carries no token.
	ErrMissingToken = errors.New("missing join token")
)

// TokenQueryParam and TokenHeader carry join tokens on the websocket request.
const (
	TokenQueryParam = "auth_token"
	TokenHeader     = "X-Auth-Token"
)

// JoinClaims is the payload of a join token.
type JoinClaims struct {
	Subject   string
	Arena     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

type tokenPayload struct {
	Subject  string `json:"sub"`
	Audience string `json:"aud,omitempty"`
	Issued   int64  `json:"iat"`
	Expires  int64  `json:"exp"`
}

// JoinSigner issues and verifies join tokens with one shared secret.
type JoinSigner struct {
	secret []byte
	arena  string
	now    func() time.Time
	leeway time.Duration
}

// NewJoinSigner binds a signer to arena. Tokens naming another arena are
// refused; an empty arena accepts any.
func NewJoinSigner(secret, arena string, leeway time.Duration) (*JoinSigner, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("join secret must not be empty")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &JoinSigner{secret: []byte(secret), arena: arena, now: time.Now, leeway: leeway}, nil
}

// WithClock overrides the signer clock.
func (s *JoinSigner) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Issue signs a token for subject that expires after ttl.
func (s *JoinSigner) Issue(subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("join token subject must not be empty")
	}
	if ttl <= 0 {
		return "", errors.New("join token ttl must be positive")
	}
	now := s.now()
	header, err := json.Marshal(tokenHeader{Algorithm: "HS256", Type: "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(tokenPayload{
		Subject:  subject,
		Audience: s.arena,
		Issued:   now.Unix(),
		Expires:  now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	signed := encodeSegment(header) + "." + encodeSegment(payload)
	return signed + "." + encodeSegment(s.sign([]byte(signed))), nil
}

// Verify parses the token and validates the signature, expiry and arena.
func (s *JoinSigner) Verify(token string) (*JoinClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	var header tokenHeader
	if err := decodeJSONSegment(parts[0], &header); err != nil {
		return nil, ErrInvalidToken
	}
	if header.Algorithm != "HS256" {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(signature, s.sign([]byte(parts[0]+"."+parts[1]))) {
		return nil, ErrInvalidToken
	}

	var payload tokenPayload
	if err := decodeJSONSegment(parts[1], &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(payload.Subject) == "" || payload.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	expiresAt := time.Unix(payload.Expires, 0)
	if expiresAt.Add(s.leeway).Before(s.now()) {
		return nil, ErrExpiredToken
	}
	if s.arena != "" && payload.Audience != s.arena {
		return nil, ErrWrongArena
	}
	return &JoinClaims{
		Subject:   payload.Subject,
		Arena:     payload.Audience,
		IssuedAt:  time.Unix(payload.Issued, 0),
		ExpiresAt: expiresAt,
	}, nil
}

// Authenticate reads the token from the query string or header of r and
// returns its subject.
func (s *JoinSigner) Authenticate(r *http.Request) (string, error) {
	token := strings.TrimSpace(r.URL.Query().Get(TokenQueryParam))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get(TokenHeader))
	}
	claims, err := s.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (s *JoinSigner) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func encodeSegment(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeJSONSegment(segment string, dst any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
