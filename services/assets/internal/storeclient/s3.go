package storeclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string // custom endpoint (MinIO, R2); enables path-style addressing
	AccessKey string
	SecretKey string
	Prefix    string
	URLTTL    time.Duration
}

// S3Binaries stores binaries in an S3-compatible bucket and hands out
// presigned GET URLs as download references.
type S3Binaries struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	ttl     time.Duration
}

func NewS3Binaries(ctx context.Context, opts S3Options) (*S3Binaries, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		// Checksums would be computed by a full pre-read of the body, which
		// would report 100% before a single byte is on the wire.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	ttl := opts.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3Binaries{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
		prefix:  strings.Trim(opts.Prefix, "/"),
		ttl:     ttl,
	}, nil
}

func (s *S3Binaries) objectKey(path string) string {
	path = strings.TrimLeft(path, "/")
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

func (s *S3Binaries) UploadBinary(ctx context.Context, path string, src Source, onProgress ProgressFunc) *Transfer {
	key := s.objectKey(path)
	return StartTransfer(ctx, path, func(ctx context.Context) (string, error) {
		rc, err := src.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()

		body := newProgressReader(ctx, rc, src.Size(), onProgress)
		in := &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          body,
			ContentLength: aws.Int64(src.Size()),
		}
		if ct := src.ContentType(); ct != "" {
			in.ContentType = aws.String(ct)
		}
		// Streaming unsigned payload keeps progress tied to the actual send.
		if _, err := s.client.PutObject(ctx, in, s3.WithAPIOptions(
			v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware,
		)); err != nil {
			return "", err
		}
		return key, nil
	})
}

func (s *S3Binaries) DownloadReference(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("object: %w", ErrNotFound)
	}
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	}); err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("object %s: %w", ref, ErrNotFound)
		}
		return "", fmt.Errorf("s3: head %s: %w", ref, err)
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	}, func(o *s3.PresignOptions) {
		o.Expires = s.ttl
	})
	if err != nil {
		return "", fmt.Errorf("s3: presign %s: %w", ref, err)
	}
	return req.URL, nil
}
