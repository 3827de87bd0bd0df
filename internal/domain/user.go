package domain

import (
	"context"
	"errors"
)

// Principal is the authenticated caller of an operation.
type Principal struct {
	Address Address `json:"address"`
	Role    Role    `json:"role"`
}

// Role represents a caller's access level
type Role string

const (
	// RoleAdmin may repoint ledger stores to new engine versions.
	RoleAdmin Role = "admin"

	// RoleParticipant covers makers, takers, agents and approvers; the engines
	// decide per operation whether the address may act.
	RoleParticipant Role = "participant"

	// RoleAsset is the asset collaborator delivering deposit notifications.
	RoleAsset Role = "asset"

	// RoleViewer can only read.
	RoleViewer Role = "viewer"
)

// Valid roles
var validRoles = map[Role]bool{
	RoleAdmin:       true,
	RoleParticipant: true,
	RoleAsset:       true,
	RoleViewer:      true,
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	return validRoles[r]
}

// CanTrade checks if the role may submit engine operations
func (r Role) CanTrade() bool {
	return r == RoleParticipant || r == RoleAdmin
}

// CanUpgrade checks if the role may repoint a store
func (r Role) CanUpgrade() bool {
	return r == RoleAdmin
}

// Authentication errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrInvalidRole  = errors.New("invalid role")
)

type principalKey struct{}

// ContextWithPrincipal attaches the caller to ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller attached by ContextWithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
