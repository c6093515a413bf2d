package auth

import (
	"context"
	"slices"
	"strings"
)

// Storefront roles, read from the Firebase "role" custom claim.
const (
	RoleClient = "client"
	RoleAdmin  = "admin"
)

// Identity is the signed-in shopper placing or paying for an order.
type Identity struct {
	UID    string
	Email  string
	Roles  []string
	Claims map[string]any
}

// HasRole is case-insensitive.
func (i *Identity) HasRole(role string) bool {
	return i != nil && slices.ContainsFunc(i.Roles, func(r string) bool {
		return strings.EqualFold(r, role)
	})
}

// IsAdmin reports staff accounts, which may act on orders of other users.
func (i *Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

type ctxKey int

const (
	identityCtxKey ctxKey = iota
	serviceIdentityCtxKey
)

// WithIdentity attaches the shopper identity to ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, identity)
}

// IdentityFromContext returns the shopper identity set by RequireFirebaseAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, _ := ctx.Value(identityCtxKey).(*Identity)
	return identity, identity != nil
}
