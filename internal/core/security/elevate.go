package security

import (
	"context"

	appctx "seqkeeper/internal/core/context"
)

// Elevate returns a context that acts with administrative privilege.
// The original caller, if any, is kept as OnBehalfOf for auditing.
//
// Scheduled jobs use this so that writes succeed regardless of the
// permissions of whoever triggered them.
func Elevate(ctx context.Context) context.Context {
	scope := &AccessScope{
		UserID:   appctx.SystemUserID,
		IsAdmin:  true,
		Elevated: true,
	}
	if caller := appctx.GetUserID(ctx); caller != "" && caller != appctx.SystemUserID {
		ctx = withOnBehalfOf(ctx, caller)
	}
	ctx = appctx.WithUser(ctx, appctx.SystemUser())
	return WithScope(ctx, scope)
}

// IsElevated reports whether ctx was produced by Elevate.
func IsElevated(ctx context.Context) bool {
	return GetScope(ctx).Elevated
}

type onBehalfOfKey struct{}

func withOnBehalfOf(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, onBehalfOfKey{}, userID)
}

// OnBehalfOf returns the user that triggered an elevated operation, or "".
func OnBehalfOf(ctx context.Context) string {
	if v, ok := ctx.Value(onBehalfOfKey{}).(string); ok {
		return v
	}
	return ""
}
