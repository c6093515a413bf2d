package mail

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

const (
	catalogFile      = "catalog.yaml"
	maxTemplateBytes = 1 << 20
)

// ErrTemplateNotFound reports a template file missing from a source.
var ErrTemplateNotFound = errors.New("mail: template not found")

//go:embed templates/*
var embeddedTemplates embed.FS

// TemplateSource reads catalog and template files by name.
type TemplateSource interface {
	ReadTemplate(ctx context.Context, name string) ([]byte, error)
}

// FSSource serves templates from an fs.FS.
type FSSource struct {
	fsys fs.FS
}

// NewFSSource wraps fsys as a TemplateSource.
func NewFSSource(fsys fs.FS) *FSSource {
	return &FSSource{fsys: fsys}
}

// EmbeddedSource returns the templates compiled into the binary.
func EmbeddedSource() *FSSource {
	sub, err := fs.Sub(embeddedTemplates, "templates")
	if err != nil {
		panic(fmt.Sprintf("mail: embedded templates: %v", err))
	}
	return NewFSSource(sub)
}

// ReadTemplate implements TemplateSource.
func (s *FSSource) ReadTemplate(_ context.Context, name string) ([]byte, error) {
	data, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return nil, fmt.Errorf("mail: read %s: %w", name, err)
	}
	return data, nil
}

// BucketTemplateSource reads template overrides from a Cloud Storage bucket.
type BucketTemplateSource struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// NewBucketTemplateSource constructs a source reading objects under prefix in bucket.
func NewBucketTemplateSource(client *storage.Client, bucket, prefix string) (*BucketTemplateSource, error) {
	if client == nil {
		return nil, errors.New("mail: storage client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("mail: template bucket is required")
	}
	return &BucketTemplateSource{
		bucket: client.Bucket(bucket),
		name:   bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}, nil
}

// ReadTemplate implements TemplateSource.
func (s *BucketTemplateSource) ReadTemplate(ctx context.Context, name string) ([]byte, error) {
	object := s.objectName(name)
	reader, err := s.bucket.Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrTemplateNotFound, s.name, object)
		}
		return nil, fmt.Errorf("mail: open gs://%s/%s: %w", s.name, object, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, maxTemplateBytes+1))
	if err != nil {
		return nil, fmt.Errorf("mail: read gs://%s/%s: %w", s.name, object, err)
	}
	if len(data) > maxTemplateBytes {
		return nil, fmt.Errorf("mail: gs://%s/%s exceeds %d bytes", s.name, object, maxTemplateBytes)
	}
	return data, nil
}

func (s *BucketTemplateSource) objectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// LayeredSource tries each source in order and returns the first file found.
type LayeredSource []TemplateSource

// ReadTemplate implements TemplateSource.
func (l LayeredSource) ReadTemplate(ctx context.Context, name string) ([]byte, error) {
	for _, source := range l {
		if source == nil {
			continue
		}
		data, err := source.ReadTemplate(ctx, name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrTemplateNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
}
