package media

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/journal-sync/internal/remote"
)

func TestOrphaned(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		prev, next remote.Media
		want       []string
	}{
		{name: "nothing before", next: remote.Media{Image: "a"}},
		{name: "unchanged", prev: remote.Media{Image: "a", Audio: "b"}, next: remote.Media{Image: "a", Audio: "b"}},
		{name: "image replaced", prev: remote.Media{Image: "a"}, next: remote.Media{Image: "c"}, want: []string{"a"}},
		{name: "both cleared", prev: remote.Media{Image: "a", Audio: "b"}, want: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Orphaned(tt.prev, tt.next))
		})
	}
}

// fakeS3 records DeleteObject calls.
type fakeS3 struct {
	keys []string
	err  error
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))

	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Cleaner_Remove(t *testing.T) {
	t.Parallel()

	fake := &fakeS3{}
	c := &S3Cleaner{client: fake, bucket: "journal", logger: nil}
	c.logger = testLogger(t)
	ctx := context.Background()

	require.NoError(t, c.Remove(ctx, "images/2024-05-01.jpg"))
	require.NoError(t, c.Remove(ctx, "/audio/a.m4a"))
	require.NoError(t, c.Remove(ctx, "s3://journal/images/b.jpg"))

	assert.Equal(t, []string{
		"journal/images/2024-05-01.jpg",
		"journal/audio/a.m4a",
		"journal/images/b.jpg",
	}, fake.keys)

	assert.Error(t, c.Remove(ctx, "s3://elsewhere/x.jpg"))
	assert.Error(t, c.Remove(ctx, "s3://journal/"))
	assert.Error(t, c.Remove(ctx, ""))
}

func TestS3Cleaner_PropagatesErrors(t *testing.T) {
	t.Parallel()

	c := &S3Cleaner{client: &fakeS3{err: errors.New("access denied")}, bucket: "journal", logger: testLogger(t)}

	err := c.Remove(context.Background(), "images/x.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewS3Cleaner_RequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := NewS3Cleaner(context.Background(), S3Config{Region: "us-east-1"}, nil)
	assert.Error(t, err)
}

func TestNewS3Cleaner_StaticCredentials(t *testing.T) {
	t.Parallel()

	c, err := NewS3Cleaner(context.Background(), S3Config{
		Bucket:    "journal",
		Region:    "us-east-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "journal", c.bucket)
}
