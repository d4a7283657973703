package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"todoshare/models"
)

// TokenTTL is how long an issued token stays valid. There is no refresh;
// clients log in again once it lapses.
const TokenTTL = 30 * time.Minute

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpired      = errors.New("token expired")
)

// Claims is the bearer token payload: sub carries the username and id the
// numeric user id.
type Claims struct {
	UserID *int64 `json:"id,omitempty"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Secret    []byte
	Algorithm string

	// Now overrides the clock, for tests.
	Now func() time.Time
}

type TokenService struct {
	secret []byte
	method jwt.SigningMethod
	now    func() time.Time
}

func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is empty")
	}
	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	var method jwt.SigningMethod
	switch alg {
	case "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported token algorithm %q", alg)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenService{secret: cfg.Secret, method: method, now: now}, nil
}

func (s *TokenService) Issue(user models.User) (string, error) {
	now := s.now()
	id := user.ID
	claims := Claims{
		UserID: &id,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate checks signature, algorithm and expiry and returns the identity
// the token was issued for.
func (s *TokenService) Validate(raw string) (models.Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, ErrExpired
		}
		return models.Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.UserID == nil {
		return models.Identity{}, ErrInvalidToken
	}
	return models.Identity{Username: claims.Subject, UserID: *claims.UserID}, nil
}
