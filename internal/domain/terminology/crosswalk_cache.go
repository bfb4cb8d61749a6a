package terminology

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const crosswalkKeyPrefix = "ayusync:crosswalk:"

// CachedCrosswalkRepository is a Redis read-through cache over
// ListByNamasteCode. Redis failures fall through to the inner repository.
type CachedCrosswalkRepository struct {
	inner   CrosswalkRepository
	client  *redis.Client
	ttl     time.Duration
	logger  zerolog.Logger
	lookups Counter
}

func NewCachedCrosswalkRepository(inner CrosswalkRepository, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedCrosswalkRepository {
	return &CachedCrosswalkRepository{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "crosswalk-cache").Logger(),
	}
}

// SetCounter counts lookups by result: "hit", "miss" or "error".
func (r *CachedCrosswalkRepository) SetCounter(c Counter) { r.lookups = c }

func (r *CachedCrosswalkRepository) count(result string) {
	if r.lookups != nil {
		r.lookups.Inc(result)
	}
}

func crosswalkKey(namasteCode string) string { return crosswalkKeyPrefix + namasteCode }

func (r *CachedCrosswalkRepository) ListByNamasteCode(ctx context.Context, namasteCode string) ([]*CrosswalkEdge, error) {
	key := crosswalkKey(namasteCode)

	data, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var edges []*CrosswalkEdge
		if jerr := json.Unmarshal(data, &edges); jerr == nil {
			r.count("hit")
			return edges, nil
		}
		r.count("error")
		r.logger.Warn().Str("key", key).Msg("discarding unreadable cached crosswalk")
	case errors.Is(err, redis.Nil):
		r.count("miss")
	default:
		r.count("error")
		r.logger.Warn().Err(err).Str("key", key).Msg("redis read failed")
	}

	edges, err := r.inner.ListByNamasteCode(ctx, namasteCode)
	if err != nil {
		return nil, err
	}
	if edges == nil {
		edges = []*CrosswalkEdge{}
	}

	if data, err := json.Marshal(edges); err == nil {
		if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("redis write failed")
		}
	}
	return edges, nil
}

// UpsertEdge writes through and drops the cached list for the source code.
func (r *CachedCrosswalkRepository) UpsertEdge(ctx context.Context, e *CrosswalkEdge) error {
	if err := r.inner.UpsertEdge(ctx, e); err != nil {
		return err
	}
	if err := r.client.Del(ctx, crosswalkKey(e.NamasteCode)).Err(); err != nil {
		r.logger.Warn().Err(err).Str("namaste_code", e.NamasteCode).Msg("redis invalidation failed")
	}
	return nil
}

func (r *CachedCrosswalkRepository) List(ctx context.Context, limit, offset int) ([]*CrosswalkRow, int, error) {
	return r.inner.List(ctx, limit, offset)
}
