package keys

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/itchgrab/itchgrab/internal/itchio"
)

func newStoreForServer(srv *httptest.Server) *Store {
	client := itchio.NewClient("key", "itchgrab-test/1.0", zap.NewNop())
	client.SetBaseURL(srv.URL)
	return NewStore(client, zap.NewNop())
}

func TestOwnedPaginatesUntilShortPage(t *testing.T) {
	t.Parallel()

	var walks atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		walks.Add(1)
		require.Equal(t, "/profile/owned-keys", r.URL.Path)
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `{"per_page": 2, "owned_keys": [
				{"id": 101, "game_id": 1, "game": {"url": "https://a.itch.io/one"}},
				{"id": 102, "game_id": 2, "game": {"url": "https://b.itch.io/two"}}
			]}`)
		case "2":
			fmt.Fprint(w, `{"per_page": 2, "owned_keys": [
				{"id": 103, "game_id": 3, "game": {"url": "https://c.itch.io/three"}}
			]}`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	store := newStoreForServer(srv)
	idx, err := store.Owned(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[int64]string{1: "101", 2: "102", 3: "103"}, idx.DownloadKeys)
	assert.Equal(t, []string{
		"https://a.itch.io/one",
		"https://b.itch.io/two",
		"https://c.itch.io/three",
	}, idx.GameURLs)
	assert.EqualValues(t, 2, walks.Load())

	key, ok := idx.KeyFor(2)
	assert.True(t, ok)
	assert.Equal(t, "102", key)
	_, ok = idx.KeyFor(99)
	assert.False(t, ok)
}

func TestOwnedMemoizesAcrossCalls(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"per_page": 50, "owned_keys": [
			{"id": 7, "game_id": 9, "game": {"url": "https://x.itch.io/game"}}
		]}`)
	}))
	defer srv.Close()

	store := newStoreForServer(srv)
	first, err := store.Owned(context.Background())
	require.NoError(t, err)
	second, err := store.Owned(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, requests.Load())
}

func TestOwnedSingleWalkUnderConcurrency(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"per_page": 50, "owned_keys": []}`)
	}))
	defer srv.Close()

	store := newStoreForServer(srv)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Owned(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, requests.Load())
}

func TestOwnedKeysObjectTreatedAsEmptyPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Some responses carry owned_keys as an object when empty.
		fmt.Fprint(w, `{"per_page": 50, "owned_keys": {}}`)
	}))
	defer srv.Close()

	store := newStoreForServer(srv)
	idx, err := store.Owned(context.Background())
	require.NoError(t, err)
	assert.Empty(t, idx.DownloadKeys)
	assert.Empty(t, idx.GameURLs)
}

func TestOwnedStopsOnFailureStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	store := newStoreForServer(srv)
	idx, err := store.Owned(context.Background())
	require.NoError(t, err)
	assert.Empty(t, idx.GameURLs)
}
