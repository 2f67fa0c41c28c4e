package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/stepquest/internal/application/query"
	"github.com/alem-hub/stepquest/pkg/logger"
)

// ProgressCache implements query.ProgressCache. Failures degrade to a miss;
// the store stays authoritative.
type ProgressCache struct {
	cache *Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewProgressCache creates a ProgressCache. A non-positive ttl uses TTLProgressCache.
func NewProgressCache(cache *Cache, ttl time.Duration, log *logger.Logger) *ProgressCache {
	if ttl <= 0 {
		ttl = TTLProgressCache
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ProgressCache{cache: cache, ttl: ttl, log: log.Named("progress_cache")}
}

// Get implements query.ProgressCache.
func (p *ProgressCache) Get(ctx context.Context, key string) (*query.ProgressDTO, bool) {
	var dto query.ProgressDTO
	if err := p.cache.Get(ctx, ProgressKey(key), &dto); err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			p.log.Warn("progress cache read failed", logger.String("key", key), logger.Err(err))
		}
		return nil, false
	}
	return &dto, true
}

// Generation implements query.ProgressCache.
func (p *ProgressCache) Generation(ctx context.Context, key string) (int64, bool) {
	gen, err := p.cache.Generation(ctx, GenerationKey(key))
	if err != nil {
		p.log.Warn("progress cache generation read failed", logger.String("key", key), logger.Err(err))
		return 0, false
	}
	return gen, true
}

// Set implements query.ProgressCache.
func (p *ProgressCache) Set(ctx context.Context, key string, gen int64, dto *query.ProgressDTO) {
	if dto == nil {
		return
	}
	stored, err := p.cache.SetIfGeneration(ctx, ProgressKey(key), GenerationKey(key), gen, dto, p.ttl)
	if err != nil {
		p.log.Warn("progress cache write failed", logger.String("key", key), logger.Err(err))
		return
	}
	if !stored {
		p.log.Debug("stale progress snapshot dropped", logger.String("key", key), logger.Int64("generation", gen))
	}
}

// Invalidate implements query.ProgressCache.
func (p *ProgressCache) Invalidate(ctx context.Context, key string) {
	if err := p.cache.Bump(ctx, ProgressKey(key), GenerationKey(key), TTLGeneration); err != nil {
		p.log.Warn("progress cache invalidation failed", logger.String("key", key), logger.Err(err))
	}
}

var _ query.ProgressCache = (*ProgressCache)(nil)
