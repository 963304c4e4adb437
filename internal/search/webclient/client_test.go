package webclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

func TestSearchParsesResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "golang", r.URL.Query().Get("q"))
		require.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": [
			{"title": "Go", "url": "https://go.dev", "content": "The Go site", "score": 0.9},
			{"title": "Wiki", "url": "https://en.wikipedia.org/wiki/Go", "content": "Encyclopedia"}
		]}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	results, err := c.Search(context.Background(), "golang", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "Go", results[0].Title)
	require.InDelta(t, 0.9, results[0].Score, 1e-9)
	// Missing provider score falls back to a rank-derived one.
	require.InDelta(t, 0.5, results[1].Score, 1e-9)
}

func TestSearchLimitsResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": [
			{"title": "a", "url": "https://a.example"},
			{"title": "b", "url": "https://b.example"},
			{"title": "c", "url": "https://c.example"}
		]}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	results, err := c.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestSearchHTTPErrorCarriesStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "q", 2)
	require.Error(t, err)
	require.Equal(t, knowledge.KindHTTPError, knowledge.KindOf(err))

	var kerr *knowledge.Error
	require.ErrorAs(t, err, &kerr)
	require.Equal(t, http.StatusTooManyRequests, kerr.Status)
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
