package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3Backend implements Backend for AWS S3.
type s3Backend struct {
	bucket  string
	key     string
	region  string
	encrypt bool
	profile string

	client s3API
}

func newS3Backend(ctx context.Context, config map[string]string) (Backend, error) {
	b, err := s3BackendFromConfig(config)
	if err != nil {
		return nil, err
	}
	if err := b.initClient(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize S3 backend: %w", err)
	}
	return b, nil
}

func s3BackendFromConfig(config map[string]string) (*s3Backend, error) {
	bucket := config["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires 'bucket' configuration")
	}

	key := config["key"]
	if key == "" {
		key = "stack-deploy/status.json"
	}

	region := config["region"]
	if region == "" {
		region = "us-east-1"
	}

	return &s3Backend{
		bucket:  bucket,
		key:     key,
		region:  region,
		encrypt: config["encrypt"] == "true",
		profile: config["profile"],
	}, nil
}

func (b *s3Backend) initClient(ctx context.Context) error {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(b.region))
	if b.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(b.profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}

	b.client = s3.NewFromConfig(cfg)
	return nil
}

func (b *s3Backend) Read(ctx context.Context) (*Report, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNoReport
		}
		return nil, fmt.Errorf("failed to read status from s3://%s/%s: %w", b.bucket, b.key, err)
	}
	defer result.Body.Close()

	var r Report
	if err := json.NewDecoder(result.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to parse status from s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return &r, nil
}

func (b *s3Backend) Write(ctx context.Context, report *Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode status report: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if b.encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write status to s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
