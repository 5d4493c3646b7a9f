// Package artifact copies a finished run's outputs to their final home: a
// local directory or an S3-compatible bucket.
package artifact

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Publisher stores named files.
type Publisher interface {
	Publish(ctx context.Context, name string, r io.Reader) (string, error)
}

// Location is a parsed s3://bucket/prefix URL.
type Location struct {
	Bucket string
	Prefix string
}

// ParseURL parses s3://bucket[/prefix].
func ParseURL(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse publish url: %w", err)
	}
	if u.Scheme != "s3" {
		return Location{}, fmt.Errorf("publish url %q: scheme must be s3", raw)
	}
	if u.Host == "" {
		return Location{}, fmt.Errorf("publish url %q: bucket required", raw)
	}
	return Location{Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
}

// Key joins the prefix and name into an object key.
func (l Location) Key(name string) string {
	if l.Prefix == "" {
		return name
	}
	return path.Join(l.Prefix, name)
}

// #region dir

// Dir publishes into a local directory.
type Dir struct {
	Root string
}

// Publish writes r to Root/name.
func (d Dir) Publish(_ context.Context, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return "", fmt.Errorf("publish %s: %w", name, err)
	}
	dst := filepath.Join(d.Root, name)
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("publish %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("publish %s: %w", name, err)
	}
	return dst, nil
}

// #endregion dir

// #region files

// PublishFiles publishes each file under its base name. Files that do not
// exist are skipped.
func PublishFiles(ctx context.Context, p Publisher, logger *zap.Logger, files ...string) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var out []string
	for _, file := range files {
		f, err := os.Open(file)
		if os.IsNotExist(err) {
			logger.Debug("skip missing output", zap.String("file", file))
			continue
		}
		if err != nil {
			return out, fmt.Errorf("open %s: %w", file, err)
		}
		dst, err := p.Publish(ctx, filepath.Base(file), f)
		f.Close()
		if err != nil {
			return out, err
		}
		logger.Info("published", zap.String("file", file), zap.String("to", dst))
		out = append(out, dst)
	}
	return out, nil
}

// #endregion files
