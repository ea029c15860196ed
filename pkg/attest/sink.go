package attest

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Sink persists an encoded attestation under name and returns its location.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// openGCS is set by the gcp build.
var openGCS func(ctx context.Context, bucket, prefix string) (Sink, error)

// OpenSink parses file://dir, s3://bucket/prefix or gs://bucket/prefix. For
// S3, region and endpoint come from the usual AWS environment; endpoint may
// also be passed as ?endpoint= for MinIO.
func OpenSink(ctx context.Context, uri string) (Sink, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("attest: sink %q: %w", uri, err)
	}
	prefix := strings.TrimPrefix(u.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	switch u.Scheme {
	case "file", "":
		dir := u.Host + u.Path
		if u.Scheme == "" {
			dir = uri
		}
		return NewFileSink(dir), nil
	case "s3":
		return NewS3Sink(ctx, S3Config{
			Bucket:   u.Host,
			Prefix:   prefix,
			Region:   u.Query().Get("region"),
			Endpoint: u.Query().Get("endpoint"),
		})
	case "gs":
		if openGCS == nil {
			return nil, fmt.Errorf("attest: gs:// sinks need a build with -tags gcp")
		}
		return openGCS(ctx, u.Host, prefix)
	default:
		return nil, fmt.Errorf("attest: unsupported sink scheme %q", u.Scheme)
	}
}

// FileSink writes under a local directory.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Put refuses names that would resolve outside the sink directory.
func (s *FileSink) Put(_ context.Context, name string, data []byte) (string, error) {
	rel := filepath.FromSlash(name)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("attest: name %q escapes sink directory", name)
	}
	path := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("attest: mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return "", fmt.Errorf("attest: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("attest: rename: %w", err)
	}
	return path, nil
}
