package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenSource mints short-lived HS256 service tokens for the backend API
// and caches them until shortly before expiry.
type tokenSource struct {
	secret  []byte
	issuer  string
	subject string
	ttl     time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
}

// renewMargin is how long before expiry a cached token is discarded
const renewMargin = 30 * time.Second

func newTokenSource(secret, issuer, subject string, ttl time.Duration) *tokenSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &tokenSource{
		secret:  []byte(secret),
		issuer:  issuer,
		subject: subject,
		ttl:     ttl,
	}
}

// Token returns a valid signed token, minting a new one when the cached
// token is missing or close to expiry
func (t *tokenSource) Token() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.expires.Add(-renewMargin)) {
		return t.token, nil
	}

	now := time.Now()
	expires := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   t.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}

	t.token = signed
	t.expires = expires
	return signed, nil
}
