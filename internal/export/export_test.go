package export

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nicrolabs-studio/internal/studio"
)

func TestFilename(t *testing.T) {
	tests := []struct {
		prefix, token, mime, want string
	}{
		{"", "1700000000000", "image/png", "nicrolabs-ai-1700000000000.png"},
		{"acme", "x", "image/jpeg", "acme-x.jpg"},
		{"acme", "x", "image/webp", "acme-x.webp"},
		{"acme", "x", "", "acme-x.png"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Filename(tc.prefix, tc.token, tc.mime))
	}
}

func TestDirExport(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	img := studio.GeneratedImage{
		ID:        "g1",
		ImageURI:  studio.DataURI("image/png", []byte("pixels")),
		MIMEType:  "image/png",
		CreatedAt: time.UnixMilli(1700000000000),
	}

	loc, err := Image(context.Background(), Dir{Root: root}, "", img)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "nicrolabs-ai-1700000000000.png"), loc)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), data)
}

func TestDirExportStripsPath(t *testing.T) {
	root := t.TempDir()
	loc, err := Dir{Root: root}.Export(context.Background(), "../../escape.png", "image/png", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "escape.png"), loc)
}

type fakePutter struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Export(t *testing.T) {
	putter := &fakePutter{}
	s := newS3(putter, "renders", "/studio/")

	loc, err := s.Export(context.Background(), "nicrolabs-ai-1.jpg", "image/jpeg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "s3://renders/studio/nicrolabs-ai-1.jpg", loc)
	assert.Equal(t, "renders", aws.ToString(putter.in.Bucket))
	assert.Equal(t, "studio/nicrolabs-ai-1.jpg", aws.ToString(putter.in.Key))
	assert.Equal(t, "image/jpeg", aws.ToString(putter.in.ContentType))
	assert.Equal(t, []byte("jpeg"), putter.body)

	putter.err = errors.New("access denied")
	_, err = s.Export(context.Background(), "a.png", "image/png", nil)
	assert.ErrorContains(t, err, "access denied")
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Options{})
	assert.Error(t, err)
}

func TestImageRejectsRemoteURI(t *testing.T) {
	_, err := Image(context.Background(), Dir{Root: t.TempDir()}, "", studio.GeneratedImage{ID: "x", ImageURI: "https://cdn/x.png"})
	assert.Error(t, err)
}
