package geolocation

import (
	"context"
	"encoding/json"
	"time"

	csdomain "github.com/marcelosanchez/locateme-web/internal/clientstate/domain"
	csrepo "github.com/marcelosanchez/locateme-web/internal/clientstate/repository"
)

// CacheKey is the durable storage key of the last resolved location.
const CacheKey = "locateme.user_location"

// CacheWindow is how long a cached location may be reused.
const CacheWindow = 30 * time.Minute

// Cache persists the last resolved location in client state.
type Cache struct {
	repo csrepo.Repository
	nowF func() time.Time
}

// NewCache returns a cache over repo.
func NewCache(repo csrepo.Repository) *Cache {
	return &Cache{repo: repo, nowF: time.Now}
}

// Get returns the cached location when it is younger than CacheWindow and has
// coordinates. Stale or malformed entries are removed and reported as absent.
func (c *Cache) Get(ctx context.Context) (*Location, error) {
	e, err := c.repo.Get(ctx, CacheKey)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	var loc Location
	if err := json.Unmarshal([]byte(e.Value), &loc); err != nil ||
		loc.Latitude == 0 || loc.Longitude == 0 ||
		c.nowF().Sub(loc.Time()) >= CacheWindow {
		return nil, c.repo.Delete(ctx, CacheKey)
	}
	return &loc, nil
}

// Put stores loc.
func (c *Cache) Put(ctx context.Context, loc Location) error {
	b, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return c.repo.Put(ctx, &csdomain.Entry{Key: CacheKey, Value: string(b), UpdatedAt: c.nowF().UTC()})
}
