// Package s3 implements an S3-compatible backend.Connector, grounded on
// dittofs's S3 content store (pkg/store/content/s3): NewS3ClientFromConfig's
// static-credentials + path-style-endpoint construction, HeadBucket startup
// validation, and the PartSize/multipart-chunk-size conventions.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/AnzeLovse/resolwe/pkg/backend"
	catalogerrors "github.com/AnzeLovse/resolwe/pkg/catalog/errors"
)

// Config configures a Connector.
type Config struct {
	BackendName    string
	PriorityN      int
	Bucket         string
	KeyPrefix      string
	Region         string
	Endpoint       string
	AccessKeyID    string
	SecretKey      string
	ForcePathStyle bool

	// PartSize is the multipart chunk size; must be between 5MiB and 5GiB.
	// Defaults to 8MiB, matching resolwe's transfer hasher_chunk_size
	// default for backends without their own preference.
	PartSize int64
}

const defaultPartSize = 8 << 20

// Connector is an S3-compatible backend.Connector.
type Connector struct {
	client *s3.Client
	cfg    Config
}

var _ backend.Connector = (*Connector)(nil)

// New builds a Connector and validates bucket reachability with HeadBucket,
// matching dittofs's startup-validation convention for the S3 content store.
func New(ctx context.Context, cfg Config) (*Connector, error) {
	if cfg.Bucket == "" {
		return nil, catalogerrors.NewConfigError("s3 backend: bucket is required")
	}
	if cfg.PartSize == 0 {
		cfg.PartSize = defaultPartSize
	}

	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, catalogerrors.NewConfigError("s3 backend: " + err.Error())
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, catalogerrors.NewConfigError(fmt.Sprintf("s3 backend: bucket %q unreachable: %v", cfg.Bucket, err))
	}

	return &Connector{client: client, cfg: cfg}, nil
}

func newClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

func (c *Connector) Name() string  { return c.cfg.BackendName }
func (c *Connector) Priority() int { return c.cfg.PriorityN }

func (c *Connector) key(url string) string {
	if c.cfg.KeyPrefix == "" {
		return url
	}
	return c.cfg.KeyPrefix + "/" + url
}

func (c *Connector) List(ctx context.Context, url string) ([]backend.ObjectInfo, error) {
	var out []backend.ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.cfg.Bucket),
		Prefix: aws.String(c.key(url)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			out = append(out, backend.ObjectInfo{URL: stripPrefix(*obj.Key, c.cfg.KeyPrefix), Size: aws.ToInt64(obj.Size)})
		}
	}
	return out, nil
}

func stripPrefix(key, prefix string) string {
	if prefix == "" {
		return key
	}
	return key[len(prefix)+1:]
}

func (c *Connector) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(c.key(url)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, catalogerrors.NewNotFoundError(url)
		}
		return nil, err
	}
	return out.Body, nil
}

func (c *Connector) Push(ctx context.Context, url string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(c.key(url)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (c *Connector) Delete(ctx context.Context, url string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(c.key(url)),
	})
	return err
}

// GetHash returns S3's ETag as the "awss3etag" hash type, computed natively
// by the service rather than via transfer.StreamHasher when possible.
func (c *Connector) GetHash(ctx context.Context, url string, hashType string) (string, bool, error) {
	if hashType != "awss3etag" {
		return "", false, nil
	}
	head, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(c.key(url)),
	})
	if err != nil {
		return "", false, nil
	}
	if head.ETag == nil {
		return "", false, nil
	}
	return trimQuotes(*head.ETag), true, nil
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// SetHashes is a no-op for S3: awss3etag is derived, not stored, and other
// hash types are persisted by the catalog's ReferencedPath.Hashes instead.
func (c *Connector) SetHashes(ctx context.Context, url string, hashes map[string]string) error {
	return nil
}

func (c *Connector) SupportedDownloadHash() string { return "awss3etag" }
func (c *Connector) SupportedUploadHash() string   { return "awss3etag" }

func (c *Connector) MultipartChunkSize() int64 { return c.cfg.PartSize }
