package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// SecretResolver turns a secret:// reference into its value.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc lets a plain function act as a SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists every configuration field that is missing or malformed.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: invalid fields: " + strings.Join(e.fields, ", ")
}

// Fields returns the offending field paths, e.g. "PayHere.MerchantID".
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// SecretError wraps a resolver failure with the reference that caused it.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve %s: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError names required secrets that resolved to nothing.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return "config: required secrets missing: " + strings.Join(e.RedactedNames(), ", ")
}

// Names returns the field paths, sorted.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	names := slices.Clone(e.names)
	slices.Sort(names)
	return names
}

// RedactedNames returns digests of the field paths for logs that leave the process.
func (e *MissingSecretsError) RedactedNames() []string {
	names := e.Names()
	for i, name := range names {
		names[i] = redactSecretName(name)
	}
	slices.Sort(names)
	return names
}

var errNoResolver = errors.New("no secret resolver configured")

// secretField is a config value that may hold a secret:// reference.
type secretField struct {
	path  string
	value *string
}

// resolveSecretFields swaps each reference for its value in place and reports what every
// field ended up holding, keyed by path.
func resolveSecretFields(ctx context.Context, resolver SecretResolver, fields []secretField) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if ref, ok := secretReference(*f.value); ok {
			if resolver == nil {
				return nil, &SecretError{Ref: ref, Err: errNoResolver}
			}
			v, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return nil, &SecretError{Ref: ref, Err: err}
			}
			*f.value = v
		}
		out[f.path] = strings.TrimSpace(*f.value)
	}
	return out, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	for _, path := range required {
		path = strings.TrimSpace(path)
		if path == "" || slices.Contains(missing, path) {
			continue
		}
		if resolved[path] == "" {
			missing = append(missing, path)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

// secretReference reports whether value is a secret reference and returns it in secret://
// form. sm:// is the older alias.
func secretReference(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest, true
	}
	return value, strings.HasPrefix(value, "secret://")
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
