// Package keys resolves the caller's owned download keys.
package keys

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/itchgrab/itchgrab/internal/itchio"
)

// Index maps game ids to download key ids, alongside the owned game URLs
// in the order the API returned them. Read-only once built.
type Index struct {
	DownloadKeys map[int64]string
	GameURLs     []string
}

// KeyFor returns the download key id for a game, if one is owned.
func (i *Index) KeyFor(gameID int64) (string, bool) {
	if i == nil {
		return "", false
	}
	key, ok := i.DownloadKeys[gameID]
	return key, ok
}

// Store lazily loads the owned-keys library exactly once per process.
// Concurrent first callers share a single pagination walk.
type Store struct {
	client *itchio.Client
	logger *zap.Logger

	mu     sync.Mutex
	cached *Index
	group  singleflight.Group
}

// NewStore builds a Store around the given API client.
func NewStore(client *itchio.Client, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Owned returns the full owned-keys index, fetching it on first use.
func (s *Store) Owned(ctx context.Context) (*Index, error) {
	s.mu.Lock()
	if s.cached != nil {
		idx := s.cached
		s.mu.Unlock()
		return idx, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("owned-keys", func() (any, error) {
		idx, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cached = idx
		s.mu.Unlock()
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// ownedKeyList tolerates the API returning an object instead of an array
// for owned_keys when the page is empty. Any non-array value decodes as an
// empty page.
type ownedKeyList []ownedKey

func (l *ownedKeyList) UnmarshalJSON(data []byte) error {
	var entries []ownedKey
	if err := json.Unmarshal(data, &entries); err != nil {
		*l = nil
		return nil
	}
	*l = entries
	return nil
}

type ownedKey struct {
	ID     json.Number `json:"id"`
	GameID int64       `json:"game_id"`
	Game   struct {
		URL string `json:"url"`
	} `json:"game"`
}

type ownedKeysPage struct {
	OwnedKeys ownedKeyList `json:"owned_keys"`
	PerPage   int          `json:"per_page"`
}

func (s *Store) load(ctx context.Context) (*Index, error) {
	idx := &Index{DownloadKeys: make(map[int64]string)}
	for page := 1; ; page++ {
		params := url.Values{"page": {strconv.Itoa(page)}}
		resp, err := s.client.Get(ctx, "/profile/owned-keys", true, &itchio.RequestOptions{
			Params:  params,
			Timeout: itchio.APITimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch owned keys page %d: %w", page, err)
		}
		// A failing status terminates the walk rather than erroring; the
		// keys gathered so far still stand.
		if resp.StatusCode != 200 {
			break
		}
		var data ownedKeysPage
		if err := json.Unmarshal(resp.Body, &data); err != nil {
			return nil, fmt.Errorf("decode owned keys page %d: %w", page, err)
		}
		for _, k := range data.OwnedKeys {
			idx.DownloadKeys[k.GameID] = k.ID.String()
			idx.GameURLs = append(idx.GameURLs, k.Game.URL)
		}
		if len(data.OwnedKeys) != data.PerPage || len(data.OwnedKeys) == 0 {
			break
		}
		s.logger.Debug("fetched owned keys page",
			zap.Int("page", page),
			zap.Int("count", len(data.OwnedKeys)))
	}
	s.logger.Debug("owned keys loaded", zap.Int("games", len(idx.GameURLs)))
	return idx, nil
}
