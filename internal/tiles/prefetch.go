package tiles

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/marcelosanchez/locateme-web/internal/geo"
)

// Prefetch defaults.
var DefaultZooms = []int{10, 12, 14, 16}

const (
	DefaultRadius    = 2
	DefaultBatchSize = 10
	batchInterval    = 100 * time.Millisecond
	prefetchTimeout  = 2 * time.Minute
	maxTileBytes     = 1 << 20
	userAgent        = "locateme-dashboard"
)

// Prefetcher warms the tile cache around a point.
type Prefetcher struct {
	Template   string
	Cache      Cache
	HTTPClient *http.Client
	Zooms      []int
	Radius     int
	BatchSize  int
	limiter    *rate.Limiter
}

// NewPrefetcher returns a prefetcher for the {z}/{x}/{y} template storing into cache.
func NewPrefetcher(template string, cache Cache) *Prefetcher {
	return &Prefetcher{
		Template:   template,
		Cache:      cache,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Zooms:      DefaultZooms,
		Radius:     DefaultRadius,
		BatchSize:  DefaultBatchSize,
		limiter:    rate.NewLimiter(rate.Every(batchInterval), 1),
	}
}

// Key returns the cache key of t.
func Key(t geo.Tile) string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Prefetch fetches every uncached tile around center in paced batches and
// returns how many were stored. Per-tile failures are ignored.
func (p *Prefetcher) Prefetch(ctx context.Context, center geo.Point) (int, error) {
	tiles := geo.TilesAround(center, p.Zooms, p.Radius)
	size := p.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	var stored atomic.Int64
	for i := 0; i < len(tiles); i += size {
		if err := p.limiter.Wait(ctx); err != nil {
			return int(stored.Load()), err
		}
		batch := tiles[i:min(i+size, len(tiles))]
		var g errgroup.Group
		for _, t := range batch {
			g.Go(func() error {
				if ok, _ := p.fetchInto(ctx, t); ok {
					stored.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	return int(stored.Load()), nil
}

// Start runs Prefetch in the background with its own deadline.
func (p *Prefetcher) Start(center geo.Point) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), prefetchTimeout)
		defer cancel()
		n, err := p.Prefetch(ctx, center)
		if err != nil {
			log.Printf("tiles: prefetch around %.5f,%.5f stopped: %v", center.Lat, center.Lng, err)
			return
		}
		log.Printf("tiles: prefetched %d tiles around %.5f,%.5f", n, center.Lat, center.Lng)
	}()
}

// Tile returns t from the cache, fetching and storing it on a miss.
func (p *Prefetcher) Tile(ctx context.Context, t geo.Tile) ([]byte, error) {
	if b, ok, err := p.Cache.Get(ctx, Key(t)); err == nil && ok {
		return b, nil
	}
	return p.fetch(ctx, t)
}

// fetchInto stores t unless it is already cached; it reports whether it stored anything.
func (p *Prefetcher) fetchInto(ctx context.Context, t geo.Tile) (bool, error) {
	if ok, err := p.Cache.Has(ctx, Key(t)); err == nil && ok {
		return false, nil
	}
	if _, err := p.fetch(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Prefetcher) fetch(ctx context.Context, t geo.Tile) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL(p.Template), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tile %s: status %d", Key(t), resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, err
	}
	if err := p.Cache.Put(ctx, Key(t), b); err != nil {
		return nil, err
	}
	return b, nil
}
