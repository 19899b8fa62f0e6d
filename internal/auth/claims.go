package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// WorkspaceID is required: every campaign, contact and delivery row is workspace-scoped.
type Claims struct {
	jwt.RegisteredClaims

	UserID      string    `json:"user_id"`
	WorkspaceID string    `json:"workspace_id"`
	Role        string    `json:"role"`
	TokenType   TokenType `json:"token_type"`
}

// Identity is who is calling and which workspace their campaigns live in.
type Identity struct {
	UserID      string
	WorkspaceID string
	Role        string
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, WorkspaceID: c.WorkspaceID, Role: c.Role}
}

// require checks the service-specific claims once the signature and
// registered claims have passed. Refresh tokens carry no role.
func (c Claims) require(expected TokenType) error {
	if c.TokenType != expected {
		return ErrTokenTypeMismatch
	}
	switch {
	case c.UserID == "":
		return fmt.Errorf("%w: user_id", ErrMissingClaim)
	case c.WorkspaceID == "":
		return fmt.Errorf("%w: workspace_id", ErrMissingClaim)
	case expected == TokenTypeAccess && c.Role == "":
		return fmt.Errorf("%w: role", ErrMissingClaim)
	}
	return nil
}
