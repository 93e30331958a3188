package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/finsync/internal/events"
	"github.com/TheMichaelB/finsync/internal/models"
)

func TestFileSinkDeliver(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	sink, err := NewFileSink(dir, events.Discard())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Deliver(ctx, "finance-export-2024-03-01.csv", "a,b\n", "text/csv"))

	data, err := os.ReadFile(sink.Path("finance-export-2024-03-01.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))

	// Replacing keeps a single complete file
	require.NoError(t, sink.Deliver(ctx, "finance-export-2024-03-01.csv", "c\n", "text/csv"))
	data, err = os.ReadFile(sink.Path("finance-export-2024-03-01.csv"))
	require.NoError(t, err)
	assert.Equal(t, "c\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileSinkEmptyContent(t *testing.T) {
	sink, err := NewFileSink(t.TempDir(), events.Discard())
	require.NoError(t, err)

	require.NoError(t, sink.Deliver(context.Background(), "empty.csv", "", "text/csv"))

	info, err := os.Stat(sink.Path("empty.csv"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestFileSinkRejectsBadNames(t *testing.T) {
	sink, err := NewFileSink(t.TempDir(), events.Discard())
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../escape.csv", "dir/file.csv", "nul\x00.csv"} {
		err := sink.Deliver(context.Background(), name, "x", "text/csv")
		assert.ErrorIs(t, err, models.ErrDelivery, "name %q", name)
	}
}

func TestFileSinkCancelledContext(t *testing.T) {
	sink, err := NewFileSink(t.TempDir(), events.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = sink.Deliver(ctx, "a.csv", "x", "text/csv")
	assert.ErrorIs(t, err, models.ErrDelivery)
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(sink.Path("a.csv"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf, events.Discard())

	require.NoError(t, sink.Deliver(context.Background(), "x.csv", "hello", "text/csv"))
	assert.Equal(t, "hello", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestWriterSinkFailure(t *testing.T) {
	sink := NewWriterSink(failingWriter{}, events.Discard())

	err := sink.Deliver(context.Background(), "x.csv", "hello", "text/csv")
	assert.ErrorIs(t, err, models.ErrDelivery)
	assert.Contains(t, err.Error(), "disk full")
}

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(in)
	if out, ok := args.Get(0).(*s3.PutObjectOutput); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestS3SinkDeliver(t *testing.T) {
	client := &mockS3{}
	client.On("PutObject", mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		body, _ := io.ReadAll(in.Body)
		return *in.Bucket == "backups" &&
			*in.Key == "users/u1/export.csv" &&
			*in.ContentType == "text/csv" &&
			string(body) == "id\n1\n"
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	sink := NewS3SinkWithClient(client, "backups", "/users/u1/", events.Discard())
	require.NoError(t, sink.Deliver(context.Background(), "export.csv", "id\n1\n", "text/csv"))

	client.AssertExpectations(t)
}

func TestS3SinkFailure(t *testing.T) {
	client := &mockS3{}
	client.On("PutObject", mock.Anything).Return(nil, errors.New("access denied"))

	sink := NewS3SinkWithClient(client, "backups", "", events.Discard())
	assert.Equal(t, "export.csv", sink.Key("export.csv"))

	err := sink.Deliver(context.Background(), "export.csv", "x", "text/csv")
	assert.ErrorIs(t, err, models.ErrDelivery)
	assert.Contains(t, err.Error(), "access denied")
}

func TestSinkFunc(t *testing.T) {
	var got string
	var sink Sink = SinkFunc(func(ctx context.Context, filename, content, mimeType string) error {
		got = filename + ":" + mimeType
		return nil
	})

	require.NoError(t, sink.Deliver(context.Background(), "a.csv", "", "text/csv"))
	assert.Equal(t, "a.csv:text/csv", got)
}
