// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package s3 provides an AWS S3 implementation of the storage interface
// using the AWS SDK for Go v2. It serves both source containers and the
// central backup store, and supports the conditional writes the checkpoint
// store depends on.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/gfsbak/gfsbak/pkg/common"
)

// Client is the subset of the S3 API the backend uses. Narrowed for test
// doubles.
type Client interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
	GetBucketTagging(ctx context.Context, params *awss3.GetBucketTaggingInput, optFns ...func(*awss3.Options)) (*awss3.GetBucketTaggingOutput, error)
}

// S3 is a storage backend for AWS S3 and S3-compatible endpoints.
type S3 struct {
	svc    Client
	bucket string
}

// New creates a new S3 storage backend.
func New() *S3 {
	return &S3{}
}

// NewWithClient creates an S3 backend with an injected client. Used in tests.
func NewWithClient(client Client, bucket string) *S3 {
	return &S3{svc: client, bucket: bucket}
}

// Configure sets up the backend. Required settings:
//   - bucket: the S3 bucket name
//   - region: AWS region
//
// Optional settings:
//   - endpoint: custom endpoint for S3-compatible stores
//   - accessKey / secretKey: static credentials (default chain otherwise)
func (s *S3) Configure(settings map[string]string) error {
	s.bucket = settings["bucket"]
	if s.bucket == "" {
		return common.ErrBucketNotSet
	}

	region := settings["region"]
	if region == "" {
		return common.ErrRegionNotSet
	}

	ctx := context.TODO()
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	if accessKey := settings["accessKey"]; accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, settings["secretKey"], "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	s.svc = awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if endpoint := settings["endpoint"]; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return nil
}

// Put stores an object in the backend.
func (s *S3) Put(key string, data io.Reader) error {
	return s.PutWithContext(context.Background(), key, data)
}

// PutWithContext stores an object in the backend with context support.
func (s *S3) PutWithContext(ctx context.Context, key string, data io.Reader) error {
	return s.PutWithMetadata(ctx, key, data, nil)
}

// PutWithMetadata stores an object with associated metadata.
func (s *S3) PutWithMetadata(ctx context.Context, key string, data io.Reader, metadata *common.Metadata) error {
	if s.svc == nil {
		return common.ErrNotConfigured
	}
	if err := common.ValidateKey(key); err != nil {
		return err
	}

	input := &awss3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 data,
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	}
	if metadata != nil {
		if metadata.ContentType != "" {
			input.ContentType = aws.String(metadata.ContentType)
		}
		if len(metadata.Custom) > 0 {
			input.Metadata = metadata.Custom
		}
	}

	_, err := s.svc.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// PutIfMatch writes the object only if its current ETag equals etag.
// An empty etag means the object must not exist yet (If-None-Match: *).
func (s *S3) PutIfMatch(ctx context.Context, key string, data io.Reader, etag string) (*common.Metadata, error) {
	if s.svc == nil {
		return nil, common.ErrNotConfigured
	}
	if err := common.ValidateKey(key); err != nil {
		return nil, err
	}

	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	input := &awss3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(buf),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	}
	if etag == "" {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = aws.String(etag)
	}

	out, err := s.svc.PutObject(ctx, input)
	if err != nil {
		if isPreconditionFailure(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrPreconditionFailed, key)
		}
		return nil, fmt.Errorf("failed to put object %s: %w", key, err)
	}

	return &common.Metadata{
		Size:      int64(len(buf)),
		ETag:      strings.Trim(aws.ToString(out.ETag), `"`),
		VersionID: aws.ToString(out.VersionId),
	}, nil
}

// isPreconditionFailure reports whether the error is an HTTP 412 or the
// duplicate-create rejection S3 returns for If-None-Match races (409).
func isPreconditionFailure(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

// Get retrieves an object from the backend.
func (s *S3) Get(key string) (io.ReadCloser, error) {
	return s.GetWithContext(context.Background(), key)
}

// GetWithContext retrieves an object from the backend with context support.
func (s *S3) GetWithContext(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.svc == nil {
		return nil, common.ErrNotConfigured
	}
	if err := common.ValidateKey(key); err != nil {
		return nil, err
	}

	out, err := s.svc.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrKeyNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return out.Body, nil
}

// GetMetadata retrieves only the metadata for an object.
func (s *S3) GetMetadata(ctx context.Context, key string) (*common.Metadata, error) {
	if s.svc == nil {
		return nil, common.ErrNotConfigured
	}
	if err := common.ValidateKey(key); err != nil {
		return nil, err
	}

	out, err := s.svc.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrMetadataNotFound, key)
		}
		return nil, fmt.Errorf("failed to head object %s: %w", key, err)
	}

	return &common.Metadata{
		ContentType:  aws.ToString(out.ContentType),
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		VersionID:    aws.ToString(out.VersionId),
		Custom:       out.Metadata,
	}, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// Delete removes an object from the backend.
func (s *S3) Delete(key string) error {
	return s.DeleteWithContext(context.Background(), key)
}

// DeleteWithContext removes an object from the backend with context support.
func (s *S3) DeleteWithContext(ctx context.Context, key string) error {
	if s.svc == nil {
		return common.ErrNotConfigured
	}
	if err := common.ValidateKey(key); err != nil {
		return err
	}

	_, err := s.svc.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Exists checks if an object exists in the backend.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.GetMetadata(ctx, key)
	if err != nil {
		if errors.Is(err, common.ErrMetadataNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns a list of keys that start with the given prefix.
func (s *S3) List(prefix string) ([]string, error) {
	return s.ListWithContext(context.Background(), prefix)
}

// ListWithContext returns a list of keys with context support.
func (s *S3) ListWithContext(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	opts := &common.ListOptions{Prefix: prefix}
	for {
		result, err := s.ListWithOptions(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, obj := range result.Objects {
			keys = append(keys, obj.Key)
		}
		if !result.Truncated {
			return keys, nil
		}
		opts.ContinueFrom = result.NextToken
	}
}

// ListWithOptions returns a paginated list of objects with full metadata.
func (s *S3) ListWithOptions(ctx context.Context, opts *common.ListOptions) (*common.ListResult, error) {
	if s.svc == nil {
		return nil, common.ErrNotConfigured
	}
	if opts == nil {
		opts = &common.ListOptions{}
	}

	input := &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	if opts.MaxResults > 0 {
		input.MaxKeys = aws.Int32(int32(opts.MaxResults)) // #nosec G115 -- MaxResults is an operator-set page size
	}
	if opts.ContinueFrom != "" {
		input.ContinuationToken = aws.String(opts.ContinueFrom)
	}

	out, err := s.svc.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	result := &common.ListResult{
		Objects:   make([]*common.ObjectInfo, 0, len(out.Contents)),
		Truncated: aws.ToBool(out.IsTruncated),
		NextToken: aws.ToString(out.NextContinuationToken),
	}
	for _, obj := range out.Contents {
		result.Objects = append(result.Objects, &common.ObjectInfo{
			Key: aws.ToString(obj.Key),
			Metadata: &common.Metadata{
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
			},
		})
	}
	return result, nil
}

// Archive copies an object to another backend for archival.
func (s *S3) Archive(key string, destination common.Archiver) error {
	if destination == nil {
		return common.ErrArchiveDestinationNil
	}

	reader, err := s.Get(key)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	return destination.Put(key, reader)
}

// BucketTags returns the bucket's tag set. Used by tag-based source
// discovery to resolve criticality.
func (s *S3) BucketTags(ctx context.Context) (map[string]string, error) {
	if s.svc == nil {
		return nil, common.ErrNotConfigured
	}

	out, err := s.svc.GetBucketTagging(ctx, &awss3.GetBucketTaggingInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchTagSet" {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to get bucket tagging: %w", err)
	}

	tags := make(map[string]string, len(out.TagSet))
	for _, tag := range out.TagSet {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return tags, nil
}
