package export

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/goliatone/go-qbexport/core"
)

const defaultS3Region = "us-east-1"

// PutObjectAPI is the slice of the S3 client the uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Uploader struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Uploader returns nil when no bucket is configured. A custom endpoint
// switches to path-style addressing for S3-compatible stores.
func NewS3Uploader(cfg core.ExportConfig) (*S3Uploader, error) {
	bucket := strings.TrimSpace(cfg.S3Bucket)
	if bucket == "" {
		return nil, nil
	}
	region := strings.TrimSpace(cfg.S3Region)
	if region == "" {
		region = defaultS3Region
	}
	opts := s3.Options{Region: region}
	if endpoint := strings.TrimSpace(cfg.S3Endpoint); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	accessKey := strings.TrimSpace(cfg.S3AccessKey)
	secretKey := strings.TrimSpace(cfg.S3SecretKey)
	if (accessKey == "") != (secretKey == "") {
		return nil, fmt.Errorf("export: s3 access key and secret key must be set together")
	}
	if accessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
	}
	return NewS3UploaderWithClient(s3.New(opts), bucket, cfg.S3Prefix)
}

func NewS3UploaderWithClient(client PutObjectAPI, bucket string, prefix string) (*S3Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("export: s3 client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("export: s3 bucket is required")
	}
	return &S3Uploader{client: client, bucket: bucket, prefix: strings.Trim(strings.TrimSpace(prefix), "/")}, nil
}

// Key returns the object key a local file is uploaded under.
func (u *S3Uploader) Key(localPath string) string {
	name := filepath.Base(localPath)
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

func (u *S3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	if u == nil || u.client == nil {
		return "", fmt.Errorf("export: s3 uploader is not configured")
	}
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("export: open %s: %w", filepath.Base(localPath), err)
	}
	defer file.Close()

	key := u.Key(localPath)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType(localPath)),
	})
	if err != nil {
		return "", fmt.Errorf("export: put s3://%s/%s: %w", u.bucket, key, err)
	}
	return "s3://" + u.bucket + "/" + key, nil
}

func contentType(localPath string) string {
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

var _ Uploader = (*S3Uploader)(nil)
