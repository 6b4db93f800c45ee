package debate

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidXSRFToken is returned when a state-changing request carries a
// missing, forged or expired XSRF token.
var ErrInvalidXSRFToken = errors.New("invalid or missing XSRF token")

const (
	xsrfHeader  = "X-XSRF-Token"
	xsrfSubject = "xsrf"
	xsrfTTL     = 12 * time.Hour
)

// XSRFTokens issues and verifies HMAC signed XSRF tokens.
type XSRFTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewXSRFTokens uses secret as the signing key. An empty secret gets a random
// key, so tokens do not survive a restart.
func NewXSRFTokens(secret string) (*XSRFTokens, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate XSRF secret: %w", err)
		}
	}
	return &XSRFTokens{secret: key, ttl: xsrfTTL, now: time.Now}, nil
}

func (x *XSRFTokens) Issue() (string, error) {
	now := x.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   xsrfSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(x.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(x.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign XSRF token: %w", err)
	}
	return token, nil
}

func (x *XSRFTokens) Verify(token string) error {
	if token == "" {
		return ErrInvalidXSRFToken
	}
	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return x.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(xsrfSubject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(x.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidXSRFToken, err)
	}
	return nil
}
