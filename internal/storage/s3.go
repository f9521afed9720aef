package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/puzpuzpuz/xsync/v3"
)

// s3Getter is the slice of the S3 client the mirror needs.
type s3Getter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Mirror fetches blobs from S3 into the local store, deduplicating
// concurrent requests for the same destination path.
type Mirror struct {
	client   s3Getter
	inflight *xsync.MapOf[string, *fetchResult]
}

type fetchResult struct {
	done chan struct{}
	err  error
}

func NewMirror(ctx context.Context, region string) (*Mirror, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewMirrorFromConfig(cfg), nil
}

// NewMirrorFromConfig builds a mirror on an already-loaded AWS config, so
// the daemon shares one config with its other AWS clients.
func NewMirrorFromConfig(cfg aws.Config) *Mirror {
	return &Mirror{
		client:   s3.NewFromConfig(cfg),
		inflight: xsync.NewMapOf[string, *fetchResult](),
	}
}

// Fetch downloads s3Url to path unless the file already exists. Objects
// stored as zstd (content type application/zstd or a .zst suffix) are
// decompressed transparently. Concurrent calls for the same path share one
// download.
func (m *Mirror) Fetch(ctx context.Context, s3Url, path string) error {
	res, loaded := m.inflight.LoadOrCompute(path, func() *fetchResult {
		return &fetchResult{done: make(chan struct{})}
	})
	if loaded {
		select {
		case <-res.done:
			return res.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer close(res.done)
	defer m.inflight.Delete(path)
	res.err = m.fetch(ctx, s3Url, path)
	return res.err
}

func (m *Mirror) fetch(ctx context.Context, s3Url, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	u, err := url.Parse(s3Url)
	if err != nil {
		return fmt.Errorf("parsing s3 url %s: %w", s3Url, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("invalid s3 url scheme: %s", u.Scheme)
	}
	// Host format bucket.s3.region.amazonaws.com
	hostParts := strings.Split(u.Host, ".")
	if len(hostParts) < 3 || hostParts[1] != "s3" {
		return fmt.Errorf("invalid s3 url host format: %s", u.Host)
	}
	bucket := hostParts[0]
	key := strings.TrimPrefix(u.Path, "/")

	obj, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("downloading %s: %w", s3Url, err)
	}
	defer obj.Body.Close()

	var body io.Reader = obj.Body
	if (obj.ContentType != nil && *obj.ContentType == "application/zstd") ||
		filepath.Ext(u.Path) == ".zst" {
		d, err := zstd.NewReader(obj.Body)
		if err != nil {
			return fmt.Errorf("creating zstd reader: %w", err)
		}
		defer d.Close()
		body = d
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, body); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
