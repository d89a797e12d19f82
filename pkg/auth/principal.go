package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoPrincipal is returned when the context carries no authenticated caller.
	ErrNoPrincipal = errors.New("no authenticated principal")
	// ErrForbidden is returned when the caller lacks a required role.
	ErrForbidden = errors.New("principal lacks required role")
)

// Principal is the authenticated caller of an operation.
type Principal struct {
	Subject  string
	Role     string
	IssuedAt time.Time
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller attached by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authorizer decides whether the caller in ctx may perform action.
type Authorizer interface {
	Authorize(ctx context.Context, action string) error
}

// RoleAuthorizer admits principals holding any of the listed roles.
type RoleAuthorizer struct {
	roles map[string]struct{}
}

// NewRoleAuthorizer creates an authorizer for the given roles.
func NewRoleAuthorizer(roles ...string) *RoleAuthorizer {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return &RoleAuthorizer{roles: set}
}

func (a *RoleAuthorizer) Authorize(ctx context.Context, action string) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return fmt.Errorf("%s: %w", action, ErrNoPrincipal)
	}
	if _, ok := a.roles[p.Role]; !ok {
		return fmt.Errorf("%s as %q: %w", action, p.Role, ErrForbidden)
	}
	return nil
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, action string) error

func (f AuthorizerFunc) Authorize(ctx context.Context, action string) error {
	return f(ctx, action)
}
