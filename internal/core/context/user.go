// Package context provides request-scoped values extraction.
package context

import (
	"context"
	"slices"
)

// SystemUserID identifies background jobs acting on behalf of the platform.
const SystemUserID = "system"

// UserContext contains authenticated user information.
type UserContext struct {
	UserID      string
	Email       string
	Roles       []string
	Permissions []string
	IsAdmin     bool

	// IsSystem marks contexts created by background jobs, not by a request.
	IsSystem bool
}

// HasPermission reports whether the user holds perm. Admins hold every permission.
func (u *UserContext) HasPermission(perm string) bool {
	if u == nil {
		return false
	}
	if u.IsAdmin || u.IsSystem {
		return true
	}
	return slices.Contains(u.Permissions, perm)
}

type userContextKey struct{}

// WithUser adds UserContext to context.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// GetUser returns UserContext from context.
func GetUser(ctx context.Context) *UserContext {
	if v, ok := ctx.Value(userContextKey{}).(*UserContext); ok {
		return v
	}
	return nil
}

// GetUserID returns user ID from context or empty string.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.UserID
	}
	return ""
}

// SystemUser returns the identity used by scheduled jobs.
func SystemUser() *UserContext {
	return &UserContext{
		UserID:   SystemUserID,
		Roles:    []string{"system"},
		IsAdmin:  true,
		IsSystem: true,
	}
}
