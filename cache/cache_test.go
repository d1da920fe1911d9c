package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceByURLFetchesOnceAndCaches(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "font/ttf")
		w.Write([]byte("font-bytes"))
	}))
	defer srv.Close()

	c := New(nil)
	r1, err := c.ResourceByURL(context.Background(), srv.URL, true, "sub1")
	require.NoError(t, err)
	assert.Equal(t, "font/ttf", r1.MimeType)
	assert.Equal(t, []byte("font-bytes"), r1.Content)

	r2, err := c.ResourceByURL(context.Background(), srv.URL, true, "sub2")
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, c.Len())
}

func TestBinaryAndTextAreDistinctEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	c := New(nil)
	_, err := c.ResourceByURL(context.Background(), srv.URL, true, "sub1")
	require.NoError(t, err)
	_, err = c.ResourceByURL(context.Background(), srv.URL, false, "sub1")
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
}

func TestReleaseOwnerEvictsUnownedResources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	c := New(nil)
	_, err := c.ResourceByURL(context.Background(), srv.URL, true, "sub1")
	require.NoError(t, err)
	_, err = c.ResourceByURL(context.Background(), srv.URL, true, "sub2")
	require.NoError(t, err)

	c.ReleaseOwner("sub1")
	assert.Equal(t, 1, c.Len())

	c.ReleaseOwner("sub2")
	assert.Equal(t, 0, c.Len())
}

func TestResourceByURLPropagatesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(nil)
	_, err := c.ResourceByURL(context.Background(), srv.URL, true, "sub1")
	assert.Error(t, err)
}
