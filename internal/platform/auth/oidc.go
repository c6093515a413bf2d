package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/solarshop/api/internal/platform/httpx"
)

// ServiceIdentity is the Google service account that called an internal route.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

// ServiceIdentityFromContext returns the caller verified by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityCtxKey).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// OIDCValidator checks Google-signed OIDC tokens, such as the ones Cloud Scheduler attaches
// to its HTTP targets.
type OIDCValidator struct {
	keys   *JWKSCache
	logger *zap.Logger
	parser *jwt.Parser
}

// NewOIDCValidator returns a validator that looks signing keys up in keys.
func NewOIDCValidator(keys *JWKSCache, logger *zap.Logger) *OIDCValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OIDCValidator{
		keys:   keys,
		logger: logger,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})),
	}
}

// RequireOIDC admits requests carrying an RS256 bearer token for audience from one of
// issuers. An empty issuer list admits any issuer.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	allowed := make([]string, 0, len(issuers))
	for _, iss := range issuers {
		if iss = strings.TrimSpace(iss); iss != "" {
			allowed = append(allowed, iss)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, failure := v.verify(r, audience, allowed)
			if failure != nil {
				httpx.WriteError(ctx, w, *failure)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, serviceIdentityCtxKey, identity)))
		})
	}
}

func (v *OIDCValidator) verify(r *http.Request, audience string, issuers []string) (*ServiceIdentity, *httpx.Error) {
	reject := func(code, message string, status int) (*ServiceIdentity, *httpx.Error) {
		e := httpx.NewError(code, message, status)
		return nil, &e
	}
	if v == nil || v.keys == nil || audience == "" {
		return reject("verification_unavailable", "oidc verification not configured", http.StatusServiceUnavailable)
	}
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return reject("unauthenticated", "oidc token missing", http.StatusUnauthorized)
	}

	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, v.keyFunc(r.Context())); err != nil {
		v.logger.Warn("oidc verification failed", zap.Error(err))
		if errors.Is(err, ErrJWKSFetchFailed) {
			return reject("invalid_token", "oidc token verification failed", http.StatusServiceUnavailable)
		}
		return reject("invalid_token", "oidc token verification failed", http.StatusUnauthorized)
	}

	identity := &ServiceIdentity{}
	identity.Issuer, _ = claims["iss"].(string)
	identity.Subject, _ = claims["sub"].(string)
	identity.Email, _ = claims["email"].(string)

	switch {
	case len(issuers) > 0 && !slices.Contains(issuers, identity.Issuer):
		v.logger.Warn("oidc issuer rejected", zap.String("issuer", identity.Issuer))
		return reject("invalid_token", "oidc issuer mismatch", http.StatusUnauthorized)
	case !claims.VerifyAudience(audience, true):
		v.logger.Warn("oidc audience rejected", zap.String("expected", audience), zap.String("subject", identity.Subject))
		return reject("invalid_token", "oidc audience mismatch", http.StatusUnauthorized)
	}
	return identity, nil
}

func (v *OIDCValidator) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid")
		}
		return v.keys.Key(ctx, kid)
	}
}
