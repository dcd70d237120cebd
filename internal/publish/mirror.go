// Package publish mirrors published prototype trees to S3-compatible object storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/protohost/internal/build"
	"git.home.luguber.info/inful/protohost/internal/logfields"
)

const defaultConcurrency = 8

// Config locates the bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// ObjectStore is the subset of *minio.Client the mirror uses.
type ObjectStore interface {
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
}

// Mirror uploads every file of an output tree under "<prototype id>/" and
// removes objects that no longer exist locally.
type Mirror struct {
	store       ObjectStore
	bucket      string
	concurrency int
}

// New dials the object store and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Mirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		slog.Info("Created output bucket", slog.String("bucket", cfg.Bucket))
	}
	return NewWithStore(client, cfg.Bucket), nil
}

// NewWithStore wraps an existing client.
func NewWithStore(store ObjectStore, bucket string) *Mirror {
	return &Mirror{store: store, bucket: bucket, concurrency: defaultConcurrency}
}

// ObjectKey maps a path relative to the output tree to its object key.
func ObjectKey(prototypeID, rel string) string {
	return path.Join(prototypeID, filepath.ToSlash(rel))
}

// Publish implements build.Publisher.
func (m *Mirror) Publish(ctx context.Context, prototypeID, dir string) error {
	start := time.Now()
	keep := make(map[string]struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := ObjectKey(prototypeID, rel)
		keep[key] = struct{}{}
		g.Go(func() error {
			opts := minio.PutObjectOptions{ContentType: build.ContentType(p)}
			if _, err := m.store.FPutObject(gctx, m.bucket, key, p, opts); err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}
			return nil
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if walkErr != nil {
		return walkErr
	}

	removed, err := m.prune(ctx, prototypeID, keep)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Mirrored output tree",
		logfields.PrototypeID(prototypeID),
		slog.String("bucket", m.bucket),
		slog.Int("objects", len(keep)),
		slog.Int("removed", removed),
		logfields.DurationMS(time.Since(start).Milliseconds()))
	return nil
}

// Remove deletes every object of a prototype.
func (m *Mirror) Remove(ctx context.Context, prototypeID string) error {
	_, err := m.prune(ctx, prototypeID, nil)
	return err
}

func (m *Mirror) prune(ctx context.Context, prototypeID string, keep map[string]struct{}) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	removed := 0
	for obj := range m.store.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prototypeID + "/", Recursive: true}) {
		if obj.Err != nil {
			return removed, fmt.Errorf("list %s: %w", prototypeID, obj.Err)
		}
		if _, ok := keep[obj.Key]; ok {
			continue
		}
		if err := m.store.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("remove %s: %w", obj.Key, err)
		}
		removed++
	}
	return removed, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
