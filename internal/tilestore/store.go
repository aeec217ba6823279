// Package tilestore implements the elevation tile store: a cache
// hierarchy of in-process memory -> Redis -> upstream terrain-RGB HTTPS
// origin, with singleflight dedup of concurrent misses and non-fatal
// fallback on cache-backend errors.
package tilestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"meshrf/internal/httpx"
	"meshrf/internal/metrics"
)

// Store is the TileStore: memory LRU -> Redis -> upstream origin.
type Store struct {
	mem   *lru.Cache[Key, *Tile]
	redis *redis.Client
	http  *httpx.Client
	log   zerolog.Logger

	upstreamURLFmt string
	redisTTL       time.Duration
	fetchGroup     singleflight.Group
	fetchSem       int
}

// Config configures a new Store.
type Config struct {
	MemCacheSize     int
	RedisTTL         time.Duration
	UpstreamURLFmt   string // format string: fmt.Sprintf(format, z, x, y)
	FetchTimeout     time.Duration
	FetchConcurrency int
}

// New builds a Store. redisClient may be nil, in which case the Redis tier
// is skipped entirely (fall through to direct fetch).
func New(cfg Config, redisClient *redis.Client, log zerolog.Logger) (*Store, error) {
	memCache, err := lru.New[Key, *Tile](cfg.MemCacheSize)
	if err != nil {
		return nil, fmt.Errorf("tilestore: building memory cache: %w", err)
	}

	conc := cfg.FetchConcurrency
	if conc <= 0 {
		conc = 8
	}

	return &Store{
		mem:            memCache,
		redis:          redisClient,
		http:           httpx.New(cfg.FetchTimeout),
		log:            log,
		upstreamURLFmt: cfg.UpstreamURLFmt,
		redisTTL:       cfg.RedisTTL,
		fetchSem:       conc,
	}, nil
}

func redisKey(k Key) string {
	return fmt.Sprintf("tile:%d:%d:%d", k.Z, k.X, k.Y)
}

// GetTile returns the elevation tile for key, fetching through the cache
// hierarchy on miss.
func (s *Store) GetTile(ctx context.Context, key Key) (*Tile, error) {
	if t, ok := s.mem.Get(key); ok {
		metrics.TileFetchTotal.WithLabelValues("memory").Inc()
		return t, nil
	}

	// Singleflight: at most one upstream fetch per key in flight at a time.
	v, err, _ := s.fetchGroup.Do(key.String(), func() (interface{}, error) {
		return s.fetchThroughRedis(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tile), nil
}

func (s *Store) fetchThroughRedis(ctx context.Context, key Key) (*Tile, error) {
	if s.redis != nil {
		if raw, err := s.redis.Get(ctx, redisKey(key)).Bytes(); err == nil {
			tile, decErr := decodeTerrainRGB(key, raw)
			if decErr == nil {
				s.mem.Add(key, tile)
				metrics.TileFetchTotal.WithLabelValues("redis").Inc()
				return tile, nil
			}
			s.log.Warn().Str("tile", key.String()).Err(decErr).Msg("corrupt cached tile, refetching")
		} else if err != redis.Nil {
			// Cache backend error is not fatal: fall back to direct fetch.
			s.log.Warn().Str("tile", key.String()).Err(err).Msg("redis tile lookup failed, falling back to upstream")
		}
	}

	raw, err := s.http.Get(ctx, fmt.Sprintf(s.upstreamURLFmt, key.Z, key.X, key.Y))
	if err != nil {
		metrics.TileFetchTotal.WithLabelValues("error").Inc()
		return nil, &TileFetchError{Key: key, Cause: err}
	}

	tile, err := decodeTerrainRGB(key, raw)
	if err != nil {
		metrics.TileFetchTotal.WithLabelValues("error").Inc()
		return nil, &TileDecodeError{Key: key, Cause: err}
	}

	metrics.TileFetchTotal.WithLabelValues("upstream").Inc()
	s.mem.Add(key, tile)
	if s.redis != nil {
		if err := s.redis.Set(context.Background(), redisKey(key), raw, s.redisTTL).Err(); err != nil {
			s.log.Warn().Str("tile", key.String()).Err(err).Msg("failed to populate redis tile cache")
		}
	}

	return tile, nil
}

// GetTilesBatch deduplicates keys and fetches them in parallel, bounded by
// the store's configured fetch concurrency. A failure on one key does not
// abort the others; the returned map only contains keys that succeeded,
// and the first error (if any) is also returned so callers can decide how
// to treat partial failures.
func (s *Store) GetTilesBatch(ctx context.Context, keys []Key) (map[Key]*Tile, error) {
	unique := make(map[Key]struct{}, len(keys))
	dedup := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := unique[k]; ok {
			continue
		}
		unique[k] = struct{}{}
		dedup = append(dedup, k)
	}

	results := make(map[Key]*Tile, len(dedup))
	var mu sync.Mutex
	var firstErr error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchSem)

	for _, k := range dedup {
		k := k
		g.Go(func() error {
			tile, err := s.GetTile(gctx, k)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				s.log.Warn().Str("tile", k.String()).Err(err).Msg("batch tile fetch failed")
				return nil // don't abort the rest of the batch
			}
			results[k] = tile
			return nil
		})
	}
	_ = g.Wait()

	return results, firstErr
}
