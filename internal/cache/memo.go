package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/singleflight"

	"StockLens/internal/metrics"
)

// DefaultTTL is the freshness window used when a Cache has no TTL set.
const DefaultTTL = time.Hour

// DefaultFlightTimeout bounds a shared computation once it no longer follows
// the context of the caller that started it.
const DefaultFlightTimeout = 2 * time.Minute

// Cache memoizes computations in a Store. Concurrent misses for the same key
// share a single computation.
type Cache struct {
	Store   Store
	TTL     time.Duration
	Metrics *metrics.Metrics
	// FlightTimeout caps a shared computation (DefaultFlightTimeout when zero).
	FlightTimeout time.Duration

	group singleflight.Group
}

// New wraps store with ttl (DefaultTTL when zero).
func New(store Store, ttl time.Duration, m *metrics.Metrics) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{Store: store, TTL: ttl, Metrics: m}
}

// IsIOError reports whether err came from the persisted store.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

// Lookup decodes a fresh value for key. ok is false on a miss or when the
// stored payload no longer decodes into T.
func Lookup[T any](c *Cache, key Key) (value T, ok bool) {
	data, hit := c.Store.Get(key, c.TTL)
	if hit {
		if err := json.Unmarshal(data, &value); err != nil {
			log.Warn().Str("key", key.String()).Err(err).Msg("cached value does not decode, treating as miss")
			var zero T
			value, hit = zero, false
		}
	}
	c.Metrics.CacheLookup(c.Store.Name(), key.Op, hit)
	return value, hit
}

// Put encodes value and stores it under key.
func Put[T any](c *Cache, key Key, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key.Op, err)
	}
	return c.Store.Set(key, data)
}

// Clear removes key, or every entry when key is nil.
func (c *Cache) Clear(key *Key) error {
	if key == nil {
		return c.Store.ClearAll()
	}
	return c.Store.Clear(*key)
}

// Remember returns the fresh cached value for key or computes it with fn.
// At most one fn runs per key at a time; concurrent callers wait for it and
// each receive their own decoded copy.
//
// If fn succeeds but the value cannot be stored, the value is returned along
// with an *IOError so the caller knows it was not cached.
func Remember[T any](ctx context.Context, c *Cache, key Key, fn func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := Lookup[T](c, key); ok {
		return v, nil
	}
	return compute(ctx, c, key, true, fn)
}

// Refresh always recomputes key with fn and stores the result.
func Refresh[T any](ctx context.Context, c *Cache, key Key, fn func(ctx context.Context) (T, error)) (T, error) {
	return compute(ctx, c, key, false, fn)
}

func (c *Cache) flightTimeout() time.Duration {
	if c.FlightTimeout > 0 {
		return c.FlightTimeout
	}
	return DefaultFlightTimeout
}

type flightResult struct {
	data     []byte
	storeErr error
}

func compute[T any](ctx context.Context, c *Cache, key Key, recheck bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	flightKey := key.String()
	if !recheck {
		flightKey = "refresh|" + flightKey
	}

	// fn runs detached from the caller that started the flight; every caller
	// stops waiting when its own ctx is done.
	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		// a caller that lost the race may arrive after the value landed
		if recheck {
			if data, ok := c.Store.Get(key, c.TTL); ok {
				return flightResult{data: data}, nil
			}
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout())
		defer cancel()
		v, err := fn(fctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key.Op, err)
		}
		return flightResult{data: data, storeErr: c.Store.Set(key, data)}, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if res.Err != nil {
		return zero, res.Err
	}

	fr := res.Val.(flightResult)
	var out T
	if err := json.Unmarshal(fr.data, &out); err != nil {
		return zero, fmt.Errorf("decode %s: %w", key.Op, err)
	}
	return out, fr.storeErr
}
