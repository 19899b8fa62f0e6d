package auth

import (
	"context"
	"errors"
)

type ctxKey struct{}

var (
	ErrNoUserID      = errors.New("auth: user_id not in context")
	ErrNoWorkspaceID = errors.New("auth: workspace_id not in context")
	ErrNoRole        = errors.New("auth: role not in context")
)

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom returns the identity the access token middleware stored.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

func UserID(ctx context.Context) (string, error) {
	if id, _ := IdentityFrom(ctx); id.UserID != "" {
		return id.UserID, nil
	}
	return "", ErrNoUserID
}

func WorkspaceID(ctx context.Context) (string, error) {
	if id, _ := IdentityFrom(ctx); id.WorkspaceID != "" {
		return id.WorkspaceID, nil
	}
	return "", ErrNoWorkspaceID
}

func Role(ctx context.Context) (string, error) {
	if id, _ := IdentityFrom(ctx); id.Role != "" {
		return id.Role, nil
	}
	return "", ErrNoRole
}

// Actor is the authenticated caller behind a campaign operation.
// It travels into audit records and dispatch events.
type Actor struct {
	UserID string
	Role   string
	IP     string
}

// ActorFrom builds an Actor from the identity in ctx. Missing values stay empty.
func ActorFrom(ctx context.Context, ip string) Actor {
	id, _ := IdentityFrom(ctx)
	return Actor{UserID: id.UserID, Role: id.Role, IP: ip}
}
