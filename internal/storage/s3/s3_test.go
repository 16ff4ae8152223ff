package s3

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeClient is an in-memory stand-in for the S3 API surface the backend
// needs, so its Put/Get/Head/List/Delete/Ping paths are tested without
// live AWS credentials.
type fakeClient struct {
	objects map[string][]byte
	ctypes  map[string]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: map[string][]byte{}, ctypes: map[string]string{}}
}

func objKey(bucket, key string) string { return bucket + "/" + key }

func (f *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	k := objKey(aws.ToString(in.Bucket), aws.ToString(in.Key))
	f.objects[k] = data
	f.ctypes[k] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	k := objKey(aws.ToString(in.Bucket), aws.ToString(in.Key))
	data, ok := f.objects[k]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentType:   aws.String(f.ctypes[k]),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	k := objKey(aws.ToString(in.Bucket), aws.ToString(in.Key))
	data, ok := f.objects[k]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	now := time.Unix(0, 0)
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(f.ctypes[k]),
		LastModified:  &now,
	}, nil
}

func (f *fakeClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	bucket := aws.ToString(in.Bucket)
	prefix := aws.ToString(in.Prefix)
	var keys []string
	bp := bucket + "/"
	for k := range f.objects {
		if len(k) > len(bp) && k[:len(bp)] == bp {
			rel := k[len(bp):]
			if len(rel) >= len(prefix) && rel[:len(prefix)] == prefix {
				keys = append(keys, rel)
			}
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		if n, err := strconv.Atoi(*in.ContinuationToken); err == nil {
			start = n
		}
	}
	limit := int(aws.ToInt32(in.MaxKeys))
	if limit <= 0 {
		limit = len(keys)
	}
	end := start + limit
	if end > len(keys) {
		end = len(keys)
	}
	if start > len(keys) {
		start = len(keys)
	}

	var contents []types.Object
	for _, k := range keys[start:end] {
		data := f.objects[objKey(bucket, k)]
		contents = append(contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(data))),
		})
	}
	out := &s3.ListObjectsV2Output{Contents: contents}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, objKey(aws.ToString(in.Bucket), aws.ToString(in.Key)))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeClient) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestFakeClientPutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	b := newFromClient(client, "test-bucket", 0)

	if err := b.Put(ctx, "test-bucket", "a.txt", []byte("hello"), "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, mediaType, err := b.Get(ctx, "test-bucket", "a.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "hello" || mediaType != "text/plain" {
		t.Fatalf("Get returned %q/%q", data, mediaType)
	}

	md, err := b.Head(ctx, "test-bucket", "a.txt")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if md.SizeBytes != 5 {
		t.Fatalf("SizeBytes = %d, want 5", md.SizeBytes)
	}

	for i := 0; i < 3; i++ {
		if err := b.Put(ctx, "test-bucket", "list/item"+strconv.Itoa(i), []byte("x"), "text/plain"); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	entries, _, err := b.List(ctx, "test-bucket", "list/", "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("listed %d entries, want 3", len(entries))
	}

	if err := b.Delete(ctx, "test-bucket", "a.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := b.Get(ctx, "test-bucket", "a.txt"); err == nil {
		t.Fatal("expected NotFound after delete")
	}

	if err := b.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
