package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	schemeSecret = "secret"
	legacyPrefix = "sm://"
	latest       = "latest"
)

// ErrEmptyReference is returned for blank references.
var ErrEmptyReference = errors.New("secrets: empty reference")

// Ref identifies one Secret Manager value. Version and Project are optional query parameters:
// secret://payhere-merchant-secret?version=3&project=solar-prod.
type Ref struct {
	Name    string
	Version string
	Project string
}

// ParseRef parses a secret:// reference. The older sm:// prefix is accepted as an alias.
func ParseRef(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, ErrEmptyReference
	}
	if rest, ok := strings.CutPrefix(raw, legacyPrefix); ok {
		raw = schemeSecret + "://" + rest
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Ref{}, fmt.Errorf("secrets: parse %q: %w", raw, err)
	}
	if u.Scheme != schemeSecret {
		return Ref{}, fmt.Errorf("secrets: scheme %q is not supported", u.Scheme)
	}

	ref := Ref{Name: strings.Trim(u.Host+u.Path, "/")}
	if ref.Name == "" {
		return Ref{}, fmt.Errorf("secrets: %q names no secret", raw)
	}
	q := u.Query()
	ref.Version = strings.TrimSpace(q.Get("version"))
	ref.Project = strings.TrimSpace(q.Get("project"))
	return ref, nil
}

// String renders the reference without query parameters.
func (r Ref) String() string {
	return schemeSecret + "://" + r.Name
}

// ResolvedVersion is the Secret Manager version alias, "latest" when unset.
func (r Ref) ResolvedVersion() string {
	if r.Version != "" {
		return r.Version
	}
	return latest
}

// resource is the Secret Manager resource name in projectID.
func (r Ref) resource(projectID string) string {
	return "projects/" + projectID + "/secrets/" + r.Name + "/versions/" + r.ResolvedVersion()
}

// key identifies a cached value. Project overrides are part of the key since the same name can
// hold different values per project.
func (r Ref) key() string {
	k := r.Name + "@" + r.ResolvedVersion()
	if r.Project != "" {
		k += "/" + r.Project
	}
	return k
}

// fingerprint is a short digest used in metric attributes so secret names stay out of exports.
func (r Ref) fingerprint() string {
	sum := sha256.Sum256([]byte(r.String()))
	return hex.EncodeToString(sum[:6])
}
