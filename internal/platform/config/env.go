package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// env is the merged variable set Load reads from.
type env map[string]string

// EnvironmentValues returns the variables Load would see. A .env file is overridden by the
// process environment, which is overridden by WithEnvMap.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	e, err := collectEnv(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return e, nil
}

func collectEnv(o loaderOptions) (env, error) {
	merged, err := readDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	if o.useSystemEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok && strings.TrimSpace(k) != "" {
				merged[strings.TrimSpace(k)] = v
			}
		}
	}
	for k, v := range o.envMap {
		merged[k] = v
	}
	return merged, nil
}

// readDotEnv parses KEY=value lines. "export" prefixes, comments and surrounding quotes are
// tolerated; a missing file yields an empty set.
func readDotEnv(path string) (env, error) {
	out := env{}
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		k, v, ok := strings.Cut(line, "=")
		if k = strings.TrimSpace(k); !ok || k == "" {
			continue
		}
		out[k] = strings.Trim(strings.TrimSpace(v), `"'`)
	}
	return out, nil
}

// raw returns the trimmed value for key, or "" when unset or blank.
func (e env) raw(key string) string {
	return strings.TrimSpace(e[key])
}

func (e env) str(key, def string) string {
	if v := e.raw(key); v != "" {
		return v
	}
	return def
}

func (e env) lower(key, def string) string {
	return strings.ToLower(e.str(key, def))
}

// Unparseable numbers and durations fall back to def; validation catches values that matter.
func (e env) dur(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(e.raw(key)); err == nil {
		return d
	}
	return def
}

func (e env) integer(key string, def int) int {
	if n, err := strconv.Atoi(e.raw(key)); err == nil {
		return n
	}
	return def
}

func (e env) float(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(e.raw(key), 64); err == nil {
		return f
	}
	return def
}

func (e env) flag(key string, def bool) bool {
	switch strings.ToLower(e.raw(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// list splits a comma separated value, dropping blanks.
func (e env) list(key string) []string {
	out := []string{}
	for _, item := range strings.Split(e.raw(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// pairs reads name=value items from a list. Names are lowercased.
func (e env) pairs(key string) map[string]string {
	out := map[string]string{}
	for _, item := range e.list(key) {
		name, value, ok := strings.Cut(item, "=")
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}
