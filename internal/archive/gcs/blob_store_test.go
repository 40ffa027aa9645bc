package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type bufferWriter struct {
	bytes.Buffer
	closed   bool
	closeErr error
}

func (w *bufferWriter) Close() error {
	w.closed = true
	return w.closeErr
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func newTestStore(w *bufferWriter, objects *[]string) *BlobStore {
	return &BlobStore{
		bucket: "reports",
		prefix: "mangawatch",
		newWriter: func(_ context.Context, bucket, object string) io.WriteCloser {
			*objects = append(*objects, bucket+"/"+object)
			return w
		},
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	w := &bufferWriter{}
	var objects []string
	store := newTestStore(w, &objects)

	uri, err := store.PutObject(context.Background(), "/polls/2024/01/01/r.json", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	require.Equal(t, "gs://reports/mangawatch/polls/2024/01/01/r.json", uri)
	require.Equal(t, []string{"reports/mangawatch/polls/2024/01/01/r.json"}, objects)
	require.Equal(t, "{}", w.String())
	require.True(t, w.closed)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	var objects []string
	_, err := newTestStore(&bufferWriter{}, &objects).PutObject(context.Background(), "", "", strings.NewReader(""))
	require.Error(t, err)

	w := &bufferWriter{}
	_, err = newTestStore(w, &objects).PutObject(context.Background(), "a.json", "", errReader{})
	require.ErrorContains(t, err, "copy object: boom")
	require.True(t, w.closed)

	w = &bufferWriter{closeErr: errors.New("quota")}
	_, err = newTestStore(w, &objects).PutObject(context.Background(), "a.json", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "close writer: quota")
}
