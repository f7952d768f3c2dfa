package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Backend stores and fetches raw artifact bytes under a relative path.
type Backend interface {
	// Name returns the backend tag recorded on artifact references.
	Name() string
	// URI returns the absolute URI for a relative path.
	URI(relPath string) string
	// Put writes bytes at the path, overwriting any existing object.
	Put(ctx context.Context, relPath string, data []byte) error
	// Get fetches the bytes at the path.
	Get(ctx context.Context, relPath string) ([]byte, error)
}

// =============================================================================
// LOCAL FILESYSTEM BACKEND
// =============================================================================

// LocalBackend writes artifacts under a root directory.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates the root directory if needed.
func NewLocalBackend(root string) (*LocalBackend, error) {
	if root == "" {
		root = ".queryloom/artifacts"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact root: %w", err)
	}
	return &LocalBackend{root: root}, nil
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) URI(relPath string) string {
	return "file://" + filepath.ToSlash(filepath.Join(b.root, relPath))
}

func (b *LocalBackend) Put(_ context.Context, relPath string, data []byte) error {
	full := filepath.Join(b.root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}
	// Write-then-rename keeps readers from observing partial artifacts.
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing artifact: %w", err)
	}
	return nil
}

func (b *LocalBackend) Get(_ context.Context, relPath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(b.root, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	return data, nil
}

// =============================================================================
// S3 BACKEND
// =============================================================================

// S3Backend writes artifacts to an S3 bucket.
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewS3Backend builds a client from the ambient AWS configuration.
func NewS3Backend(ctx context.Context, bucket string) (*S3Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 artifact backend requires a bucket")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &S3Backend{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) URI(relPath string) string {
	return "s3://" + b.bucket + "/" + strings.TrimPrefix(relPath, "/")
}

func (b *S3Backend) Put(ctx context.Context, relPath string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(relPath),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("putting s3 artifact: %w", err)
	}
	return nil
}

func (b *S3Backend) Get(ctx context.Context, relPath string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(relPath),
	})
	if err != nil {
		return nil, fmt.Errorf("getting s3 artifact: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3 artifact body: %w", err)
	}
	return data, nil
}
