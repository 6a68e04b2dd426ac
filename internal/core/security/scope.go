// Package security provides authorization and access control.
package security

import (
	"context"
	"fmt"

	"seqkeeper/internal/core/apperror"
	appctx "seqkeeper/internal/core/context"
)

// Permission is a permission string carried in JWT claims.
type Permission string

const (
	PermissionSequenceRead   Permission = "sequence:read"
	PermissionSequenceCreate Permission = "sequence:create"
	PermissionSequenceUpdate Permission = "sequence:update"
	PermissionSequenceDelete Permission = "sequence:delete"
	PermissionSequenceNext   Permission = "sequence:next"
	PermissionSequenceReset  Permission = "sequence:reset"
	PermissionAuditRead      Permission = "audit:read"
)

// AccessScope defines what the current caller may do.
type AccessScope struct {
	UserID      string
	IsAdmin     bool
	Elevated    bool
	Permissions []Permission
}

// NewAccessScope creates AccessScope from the user stored in context.
func NewAccessScope(ctx context.Context) *AccessScope {
	user := appctx.GetUser(ctx)
	if user == nil {
		return &AccessScope{}
	}

	perms := make([]Permission, 0, len(user.Permissions))
	for _, p := range user.Permissions {
		perms = append(perms, Permission(p))
	}

	return &AccessScope{
		UserID:      user.UserID,
		IsAdmin:     user.IsAdmin,
		Elevated:    user.IsSystem,
		Permissions: perms,
	}
}

// HasPermission checks if the scope grants perm.
func (s *AccessScope) HasPermission(perm Permission) bool {
	if s.IsAdmin || s.Elevated {
		return true
	}
	for _, p := range s.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// RequirePermission returns a forbidden error if perm is missing.
func (s *AccessScope) RequirePermission(perm Permission) error {
	if !s.HasPermission(perm) {
		return apperror.NewForbidden(fmt.Sprintf("permission %s required", perm)).
			WithDetail("permission", perm)
	}
	return nil
}

// --- Context-based scope access ---

type scopeKey struct{}

// WithScope adds AccessScope to context.
func WithScope(ctx context.Context, scope *AccessScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// GetScope returns AccessScope from context, deriving it from the user if absent.
func GetScope(ctx context.Context) *AccessScope {
	if v, ok := ctx.Value(scopeKey{}).(*AccessScope); ok {
		return v
	}
	return NewAccessScope(ctx)
}

// Require checks perm against the scope found in ctx.
func Require(ctx context.Context, perm Permission) error {
	return GetScope(ctx).RequirePermission(perm)
}
