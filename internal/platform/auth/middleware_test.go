package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func serveFirebase(a *Authenticator, header string, roles ...string) (*httptest.ResponseRecorder, *Identity) {
	var identity *Identity
	handler := a.RequireFirebaseAuth(roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, identity
}

func TestRequireFirebaseAuthDefaultsToClient(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "user-1", Claims: map[string]any{"email": "nimal@example.com"}}}
	rec, identity := serveFirebase(NewAuthenticator(verifier), "Bearer id-token")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if verifier.received != "id-token" {
		t.Fatalf("expected token to be forwarded, got %q", verifier.received)
	}
	if identity == nil || identity.UID != "user-1" || identity.Email != "nimal@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if !identity.HasRole(RoleClient) || identity.IsAdmin() {
		t.Fatalf("expected client role, got %v", identity.Roles)
	}
}

func TestRequireFirebaseAuthRoleClaims(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "ops", Claims: map[string]any{"role": []any{"Admin", " "}}}}
	rec, identity := serveFirebase(NewAuthenticator(verifier), "bearer t", RoleAdmin)
	if rec.Code != http.StatusOK || !identity.IsAdmin() {
		t.Fatalf("expected admin to pass, got %d %+v", rec.Code, identity)
	}

	verifier.token = &firebaseauth.Token{UID: "user-1", Claims: map[string]any{"role": "client"}}
	if rec, _ := serveFirebase(NewAuthenticator(verifier), "Bearer t", RoleAdmin); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequireFirebaseAuthRejects(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
		status int
		code   string
	}{
		{name: "missing header", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "invalid token", header: "Bearer bad", err: errors.New("boom"), status: http.StatusUnauthorized, code: "invalid_token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verifier := &stubTokenVerifier{err: tc.err, token: &firebaseauth.Token{UID: "u"}}
			rec, _ := serveFirebase(NewAuthenticator(verifier), tc.header)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestRequireFirebaseAuthWithoutVerifier(t *testing.T) {
	rec, _ := serveFirebase(NewAuthenticator(nil), "Bearer t")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

type stubRevocationChecker struct {
	calls int
}

func (s *stubRevocationChecker) VerifyIDTokenAndCheckRevoked(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.calls++
	return &firebaseauth.Token{UID: "checked-" + idToken}, nil
}

func TestRevokedTokenVerifierDelegates(t *testing.T) {
	checker := &stubRevocationChecker{}
	rec, identity := serveFirebase(NewAuthenticator(revokedTokenVerifier{client: checker}), "Bearer abc")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if checker.calls != 1 || identity.UID != "checked-abc" {
		t.Fatalf("expected revocation-checked verification, got calls=%d identity=%+v", checker.calls, identity)
	}
}
