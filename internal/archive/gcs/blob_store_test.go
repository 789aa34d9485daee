package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	store, err := New(client, Config{Bucket: "epapers"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client is required")

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{Bucket: " "})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestPutObject(t *testing.T) {
	const object = "epapers/2024/die-zeit-2cf24dba5fb0.epub"
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/epapers/o")
		assert.Equal(t, object, r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "epub bytes")
		assert.Contains(t, string(body), "application/epub+zip")

		fmt.Fprintln(w, `{"name": "`+object+`", "bucket": "epapers"}`)
	})

	store := newTestStore(t, handler)
	uri, err := store.PutObject(context.Background(), object, "application/epub+zip", strings.NewReader("epub bytes"))
	require.NoError(t, err)
	assert.Equal(t, "gs://epapers/"+object, uri)
}

func TestPutObjectServerError(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err := store.PutObject(context.Background(), "a.epub", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestPutObjectEmptyPath(t *testing.T) {
	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "path is required")
}
