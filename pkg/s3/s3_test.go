// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfsbak/gfsbak/pkg/common"
)

type fakeObject struct {
	data []byte
	etag string
	mod  time.Time
}

// fakeClient is an in-memory stand-in for the S3 API.
type fakeClient struct {
	objects map[string]*fakeObject
	tags    []types.Tag
	seq     int
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string]*fakeObject)}
}

type apiError struct{ code string }

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func (f *fakeClient) PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	key := aws.ToString(params.Key)
	existing, exists := f.objects[key]

	if params.IfNoneMatch != nil && exists {
		return nil, &apiError{code: "PreconditionFailed"}
	}
	if params.IfMatch != nil {
		if !exists || existing.etag != strings.Trim(aws.ToString(params.IfMatch), `"`) {
			return nil, &apiError{code: "PreconditionFailed"}
		}
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.seq++
	obj := &fakeObject{data: data, etag: fmt.Sprintf("etag-%d", f.seq), mod: time.Now()}
	f.objects[key] = obj
	return &awss3.PutObjectOutput{ETag: aws.String(`"` + obj.etag + `"`)}, nil
}

func (f *fakeClient) GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	obj, exists := f.objects[aws.ToString(params.Key)]
	if !exists {
		return nil, &apiError{code: "NoSuchKey"}
	}
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

func (f *fakeClient) HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	obj, exists := f.objects[aws.ToString(params.Key)]
	if !exists {
		return nil, &apiError{code: "NotFound"}
	}
	return &awss3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ETag:          aws.String(`"` + obj.etag + `"`),
		LastModified:  aws.Time(obj.mod),
	}, nil
}

func (f *fakeClient) DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(params.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeClient) ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	prefix := aws.ToString(params.Prefix)
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if params.ContinuationToken != nil {
		for i, key := range keys {
			if key == aws.ToString(params.ContinuationToken) {
				start = i + 1
				break
			}
		}
	}

	max := len(keys)
	if params.MaxKeys != nil && int(*params.MaxKeys) < max-start {
		max = start + int(*params.MaxKeys)
	}

	out := &awss3.ListObjectsV2Output{IsTruncated: aws.Bool(max < len(keys))}
	for _, key := range keys[start:max] {
		obj := f.objects[key]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(obj.data))),
			ETag:         aws.String(`"` + obj.etag + `"`),
			LastModified: aws.Time(obj.mod),
		})
	}
	if aws.ToBool(out.IsTruncated) && max > start {
		out.NextContinuationToken = out.Contents[len(out.Contents)-1].Key
	}
	return out, nil
}

func (f *fakeClient) GetBucketTagging(ctx context.Context, params *awss3.GetBucketTaggingInput, optFns ...func(*awss3.Options)) (*awss3.GetBucketTaggingOutput, error) {
	if f.tags == nil {
		return nil, &apiError{code: "NoSuchTagSet"}
	}
	return &awss3.GetBucketTaggingOutput{TagSet: f.tags}, nil
}

func TestConfigureValidation(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Configure(map[string]string{"region": "us-east-1"}), common.ErrBucketNotSet)
	assert.ErrorIs(t, s.Configure(map[string]string{"bucket": "b"}), common.ErrRegionNotSet)
}

func TestPutGetDelete(t *testing.T) {
	s := NewWithClient(newFakeClient(), "central")
	ctx := context.Background()

	require.NoError(t, s.Put("manifests/m.csv", strings.NewReader("bucket,key,version")))

	rc, err := s.GetWithContext(ctx, "manifests/m.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "bucket,key,version", string(data))

	exists, err := s.Exists(ctx, "manifests/m.csv")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete("manifests/m.csv"))
	_, err = s.Get("manifests/m.csv")
	assert.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestPutIfMatch(t *testing.T) {
	s := NewWithClient(newFakeClient(), "central")
	ctx := context.Background()

	meta, err := s.PutIfMatch(ctx, "checkpoints/src/incremental.txt", strings.NewReader("t1"), "")
	require.NoError(t, err)
	require.NotEmpty(t, meta.ETag)

	_, err = s.PutIfMatch(ctx, "checkpoints/src/incremental.txt", strings.NewReader("t2"), "")
	assert.ErrorIs(t, err, common.ErrPreconditionFailed)

	meta2, err := s.PutIfMatch(ctx, "checkpoints/src/incremental.txt", strings.NewReader("t2"), meta.ETag)
	require.NoError(t, err)

	_, err = s.PutIfMatch(ctx, "checkpoints/src/incremental.txt", strings.NewReader("t3"), meta.ETag)
	assert.ErrorIs(t, err, common.ErrPreconditionFailed)

	_, err = s.PutIfMatch(ctx, "checkpoints/src/incremental.txt", strings.NewReader("t3"), meta2.ETag)
	require.NoError(t, err)
}

func TestListPagination(t *testing.T) {
	s := NewWithClient(newFakeClient(), "central")
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(fmt.Sprintf("inv/%d", i), strings.NewReader("x")))
	}

	res, err := s.ListWithOptions(context.Background(), &common.ListOptions{Prefix: "inv/", MaxResults: 2})
	require.NoError(t, err)
	assert.Len(t, res.Objects, 2)
	assert.True(t, res.Truncated)

	keys, err := s.List("inv/")
	require.NoError(t, err)
	assert.Len(t, keys, 5)
}

func TestBucketTags(t *testing.T) {
	fc := newFakeClient()
	s := NewWithClient(fc, "src")

	tags, err := s.BucketTags(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tags, "missing tag set is not an error")

	fc.tags = []types.Tag{
		{Key: aws.String("BackupEnabled"), Value: aws.String("true")},
		{Key: aws.String("BackupCriticality"), Value: aws.String("Critico")},
	}
	tags, err = s.BucketTags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Critico", tags["BackupCriticality"])
}
