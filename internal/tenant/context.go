// Package tenant carries the caller identity every data-room operation is
// scoped by, and the guard that checks a target company against it.
package tenant

import (
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"
)

var ErrUnauthorized = errors.New("tenant: unauthorized")

// Context is the caller identity supplied by authentication: who is calling,
// which tenant they belong to and which companies they may act on.
type Context struct {
	UserID               uuid.UUID
	TenantID             uuid.UUID
	Email                string
	Name                 string
	AuthorizedCompanyIDs []uuid.UUID
}

// Authorize returns ErrUnauthorized unless companyID is in the caller's
// authorized set. It must run before any entity of that company is read,
// otherwise a lookup miss would reveal whether the entity exists.
func (c Context) Authorize(companyID uuid.UUID) error {
	if c.TenantID == uuid.Nil || c.UserID == uuid.Nil {
		return ErrUnauthorized
	}
	if companyID == uuid.Nil || !slices.Contains(c.AuthorizedCompanyIDs, companyID) {
		return ErrUnauthorized
	}
	return nil
}

type contextKey struct{}

// WithContext attaches the caller identity to ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext extracts the caller identity previously attached by WithContext.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	tc, ok := ctx.Value(contextKey{}).(Context)
	return tc, ok
}
