// Package publish mirrors a finished export to a Cloud Storage bucket.
package publish

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yairfalse/runport/internal/logger"
)

// Bucket stores objects
type Bucket interface {
	Upload(ctx context.Context, object string, data []byte, contentType string) error
}

// Publisher uploads export files below a bucket prefix
type Publisher struct {
	bucket Bucket
	name   string
	prefix string
	close  func() error
	logger logger.Logger
}

// Result lists the uploaded objects as gs:// URLs
type Result struct {
	Objects []string
}

// ParseURL splits gs://bucket/prefix into its bucket and object prefix
func ParseURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("unsupported scheme %q, expected gs://bucket/prefix", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("bucket is required in %q", raw)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// New creates a publisher for a bucket implementation
func New(bucket Bucket, name, prefix string, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.Discard()
	}
	return &Publisher{
		bucket: bucket,
		name:   name,
		prefix: prefix,
		close:  func() error { return nil },
		logger: log,
	}
}

// NewGCS creates a publisher for a gs:// URL using default credentials
// unless opts say otherwise.
func NewGCS(ctx context.Context, rawURL string, log logger.Logger, opts ...option.ClientOption) (*Publisher, error) {
	name, prefix, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	p := New(&gcsBucket{handle: client.Bucket(name)}, name, prefix, log)
	p.close = client.Close
	return p, nil
}

// Close releases the storage client
func (p *Publisher) Close() error {
	return p.close()
}

// Publish uploads names, read from dir, in the given order
func (p *Publisher) Publish(ctx context.Context, dir string, names []string) (*Result, error) {
	result := &Result{}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return result, fmt.Errorf("failed to read %s: %w", name, err)
		}

		object := path.Join(p.prefix, name)
		if err := p.bucket.Upload(ctx, object, data, contentType(name)); err != nil {
			return result, fmt.Errorf("failed to upload gs://%s/%s: %w", p.name, object, err)
		}
		result.Objects = append(result.Objects, fmt.Sprintf("gs://%s/%s", p.name, object))
	}

	p.logger.WithFields(map[string]interface{}{
		"bucket":  p.name,
		"prefix":  p.prefix,
		"objects": len(result.Objects),
	}).Info("Published export")

	return result, nil
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "text/plain; charset=utf-8"
	}
}

type gcsBucket struct {
	handle *storage.BucketHandle
}

func (b *gcsBucket) Upload(ctx context.Context, object string, data []byte, contentType string) error {
	w := b.handle.Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
