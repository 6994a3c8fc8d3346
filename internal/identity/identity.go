package identity

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrRevokedToken = errors.New("token revoked")
)

// Claims is what a verified bearer token tells us about the caller.
type Claims struct {
	Subject string
	Email   string
	Name    string
	TokenID string
}

// Verifier turns a bearer token into Claims.
type Verifier interface {
	VerifyToken(ctx context.Context, bearer string) (Claims, error)
}

// Principal is the authenticated caller as seen by domain services.
type Principal struct {
	UserID string
	Email  string
	TeamID string
}

// HasTeam reports whether the principal belongs to a team.
func (p Principal) HasTeam() bool {
	return strings.TrimSpace(p.TeamID) != ""
}

// ErrorCode maps a verification error to its API error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, ErrRevokedToken):
		return "revoked_token"
	default:
		return "invalid_token"
	}
}

// PrincipalResolver maps verified claims to a principal, loading team
// membership from the user record.
type PrincipalResolver interface {
	Principal(ctx context.Context, claims Claims) (Principal, error)
}
