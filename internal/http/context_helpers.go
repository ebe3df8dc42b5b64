package httpx

import (
	"context"

	"github.com/target/job-launcher/internal/domain/signature"
)

// Unexported context key types avoid collisions across packages.
type (
	userIDKey    struct{}
	familyKey    struct{}
	requestIDKey struct{}
)

// SetUserIDInContext returns a child context carrying the authenticated user id.
// Non-positive ids leave ctx unchanged.
func SetUserIDInContext(ctx context.Context, userID int64) context.Context {
	if userID <= 0 {
		return ctx
	}
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the authenticated user id and whether one is present.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey{}).(int64)
	return id, ok && id > 0
}

// SetFamilyInContext records the caller family resolved by signature checks.
func SetFamilyInContext(ctx context.Context, family signature.Family) context.Context {
	if family == "" {
		return ctx
	}
	return context.WithValue(ctx, familyKey{}, family)
}

// FamilyFromContext returns the authenticated caller family.
func FamilyFromContext(ctx context.Context) (signature.Family, bool) {
	f, ok := ctx.Value(familyKey{}).(signature.Family)
	return f, ok && f != ""
}

// RequestIDFromContext returns the request id assigned by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
