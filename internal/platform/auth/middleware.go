package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/solarshop/api/internal/platform/httpx"
)

// Authenticator guards storefront routes with Firebase ID tokens.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
	timeout   time.Duration
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithRoleClaim reads roles from claim instead of "role".
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithVerificationTimeout caps the time spent verifying one token. The default is 5s.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator returns an Authenticator that verifies tokens with verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, roleClaim: "role", timeout: 5 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth admits requests bearing a valid ID token and stores the shopper
// Identity on the request context. With roles set the shopper needs at least one of them.
// A token without a role claim belongs to a client.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, failure := a.authenticate(r)
			if failure == nil && len(roles) > 0 && !slices.ContainsFunc(roles, identity.HasRole) {
				e := httpx.NewError("forbidden", "identity lacks the required role", http.StatusForbidden)
				failure = &e
			}
			if failure != nil {
				httpx.WriteError(r.Context(), w, *failure)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) (*Identity, *httpx.Error) {
	fail := func(code, message string, status int) (*Identity, *httpx.Error) {
		e := httpx.NewError(code, message, status)
		return nil, &e
	}

	idToken, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return fail("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized)
	}
	if a == nil || a.verifier == nil {
		return fail("auth_unavailable", "authentication is not configured", http.StatusServiceUnavailable)
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	token, err := a.verifier.VerifyIDToken(ctx, idToken)
	switch {
	case err == nil:
	case firebaseauth.IsIDTokenExpired(err):
		return fail("token_expired", "firebase id token expired", http.StatusUnauthorized)
	case firebaseauth.IsIDTokenRevoked(err), firebaseauth.IsUserDisabled(err):
		return fail("token_revoked", "firebase session is no longer valid", http.StatusUnauthorized)
	default:
		return fail("invalid_token", "firebase id token invalid", http.StatusUnauthorized)
	}

	email, _ := token.Claims["email"].(string)
	identity := &Identity{
		UID:    token.UID,
		Email:  strings.TrimSpace(email),
		Roles:  rolesFromClaim(token.Claims[a.roleClaim]),
		Claims: token.Claims,
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{RoleClient}
	}
	return identity, nil
}

// rolesFromClaim accepts a single role string or a list of them.
func rolesFromClaim(claim any) []string {
	var raw []string
	switch v := claim.(type) {
	case string:
		raw = append(raw, v)
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	roles := make([]string, 0, len(raw))
	for _, role := range raw {
		if role = strings.ToLower(strings.TrimSpace(role)); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

func bearerToken(header string) (string, bool) {
	scheme, token, _ := strings.Cut(strings.TrimSpace(header), " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
