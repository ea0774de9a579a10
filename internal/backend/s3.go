package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds connection parameters for an S3-compatible backend.
type S3Config struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint for MinIO/LocalStack-class
	// stores; path-style addressing is forced when set.
	Endpoint string
	// Prefix is prepended to every storage path.
	Prefix string
}

// S3 stores bytes in an S3-compatible object store. A single PutObject (or
// completed multipart upload) is atomically visible, which satisfies the
// Write contract without a temp-key dance.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3 creates an S3 backend and checks bucket access.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 backend bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("access bucket %q: %w", cfg.Bucket, classifyS3(err))
	}

	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   strings.TrimPrefix(cfg.Prefix, "/"),
	}, nil
}

func (b *S3) key(path string) string {
	return b.prefix + path
}

// Write uploads the stream to path. The uploader switches to multipart for
// large streams; either way nothing is visible until the upload completes.
func (b *S3) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	counted := &countingReader{r: r}
	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(path)),
		Body:        counted,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return 0, classifyS3(err)
	}
	return counted.n, nil
}

// Read opens the bytes at path.
func (b *S3) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		return nil, classifyS3(err)
	}
	return out.Body, nil
}

// Exists checks the path with a HeadObject call.
func (b *S3) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		classified := classifyS3(err)
		if errors.Is(classified, ErrNotFound) {
			return false, nil
		}
		return false, classified
	}
	return true, nil
}

// Delete removes the object at path. S3 DeleteObject is already a no-op
// for missing keys.
func (b *S3) Delete(ctx context.Context, path string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		classified := classifyS3(err)
		if errors.Is(classified, ErrNotFound) {
			return nil
		}
		return classified
	}
	return nil
}

// List returns the storage paths under prefix.
func (b *S3) List(ctx context.Context, prefix string) ([]string, error) {
	paths := []string{}
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.key(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3(err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			paths = append(paths, strings.TrimPrefix(*obj.Key, b.prefix))
		}
	}
	return paths, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
