package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/solarshop/api/internal/platform/config"
)

// TokenVerifier checks a Firebase ID token and returns its decoded claims.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// revocationChecker is implemented by *firebaseauth.Client.
type revocationChecker interface {
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// revokedTokenVerifier also rejects tokens of users whose sessions were revoked or who were
// disabled. It costs one Auth backend call per request.
type revokedTokenVerifier struct {
	client revocationChecker
}

func (v revokedTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	return v.client.VerifyIDTokenAndCheckRevoked(ctx, idToken)
}

// NewFirebaseVerifier builds a verifier from the Admin SDK for cfg.ProjectID.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (TokenVerifier, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}

	var opts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase auth client: %w", err)
	}

	if cfg.CheckRevoked {
		return revokedTokenVerifier{client: client}, nil
	}
	return client, nil
}
