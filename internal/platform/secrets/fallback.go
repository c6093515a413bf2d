package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// localFile serves secrets from a developer file of reference=value lines:
//
//	# .secrets.local
//	secret://payhere-merchant-secret=sandbox-secret
//	secret://smtp-password?version=2="quoted value"
//
// A missing file is treated as empty.
type localFile struct {
	path string

	once    sync.Once
	entries map[string]string
	loadErr error
}

func newLocalFile(path string) *localFile {
	return &localFile{path: strings.TrimSpace(path)}
}

// get prefers an exact version match and falls back to an entry without one.
func (l *localFile) get(ref Ref) (string, bool, error) {
	l.once.Do(l.read)
	if l.loadErr != nil {
		return "", false, l.loadErr
	}
	if v, ok := l.entries[ref.key()]; ok {
		return v, true, nil
	}
	v, ok := l.entries[ref.Name]
	return v, ok, nil
}

func (l *localFile) read() {
	l.entries = make(map[string]string)
	if l.path == "" {
		return
	}
	data, err := os.ReadFile(l.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return
	case err != nil:
		l.loadErr = fmt.Errorf("secrets: read %s: %w", l.path, err)
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		sep := strings.IndexByte(line, '=')
		if q := strings.IndexByte(line, '?'); q >= 0 && q < sep {
			sep = indexValueSeparator(line, q)
		}
		if sep <= 0 {
			continue
		}
		ref, err := ParseRef(line[:sep])
		if err != nil {
			continue
		}
		value := unquote(strings.TrimSpace(line[sep+1:]))
		if ref.Version == "" && ref.Project == "" {
			l.entries[ref.Name] = value
		}
		l.entries[ref.key()] = value
	}
}

// indexValueSeparator finds the '=' that ends a reference carrying a query string. Query
// parameters are name=value pairs joined by '&', so the separator is the first '=' that follows
// a complete pair.
func indexValueSeparator(line string, queryStart int) int {
	inValue := false
	for i := queryStart + 1; i < len(line); i++ {
		switch line[i] {
		case '=':
			if inValue {
				return i
			}
			inValue = true
		case '&':
			inValue = false
		}
	}
	return -1
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
