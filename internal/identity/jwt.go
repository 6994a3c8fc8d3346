package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const devSecret = "dev-secret"

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens issued by JWTSigner.
type JWTVerifier struct {
	Secret      []byte
	Issuer      string
	Revocations RevocationList
	Now         func() time.Time
}

// JWTSigner issues HS256 tokens; used by the CLI and tests.
type JWTSigner struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

// SecretFor returns the signing secret for env. Production requires one.
func SecretFor(env, secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	env = strings.ToLower(strings.TrimSpace(env))
	if secret == "" {
		if env == "production" || env == "prod" {
			return nil, errors.New("JWT_SECRET required in production")
		}
		secret = devSecret
	}
	return []byte(secret), nil
}

func (v *JWTVerifier) VerifyToken(ctx context.Context, bearer string) (Claims, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return Claims{}, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	var tc tokenClaims
	_, err := jwt.ParseWithClaims(bearer, &tc, func(*jwt.Token) (interface{}, error) {
		return v.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tc.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	if v.Revocations != nil && tc.ID != "" {
		revoked, err := v.Revocations.IsRevoked(ctx, tc.ID)
		if err != nil {
			return Claims{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return Claims{}, ErrRevokedToken
		}
	}
	return Claims{Subject: tc.Subject, Email: tc.Email, Name: tc.Name, TokenID: tc.ID}, nil
}

func (v *JWTVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Mint signs a token for claims valid for ttl. A token id is assigned when empty.
func (s JWTSigner) Mint(claims Claims, ttl time.Duration) (string, error) {
	if claims.Subject == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	if claims.TokenID == "" {
		claims.TokenID = uuid.NewString()
	}
	tc := tokenClaims{
		Email: claims.Email,
		Name:  claims.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			Issuer:    s.Issuer,
			ID:        claims.TokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(s.Secret)
}
