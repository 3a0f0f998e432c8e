// Package cache wraps a render.Engine with an in-memory cache of encoded map
// images.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/delta10/wms-server/internal/render"
)

const DefaultExpiration = 5 * time.Minute
const DefaultCleanupInterval = 10 * time.Minute

// Engine caches the output of Render. Every other call is passed through.
type Engine struct {
	render.Engine

	cache  *gocache.Cache
	logger *zap.Logger
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New wraps next. Zero durations select the package defaults.
func New(next render.Engine, expiration, cleanupInterval time.Duration, opts ...Option) *Engine {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	e := &Engine{
		Engine: next,
		cache:  gocache.New(expiration, cleanupInterval),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Render(ctx context.Context, m *render.Map, format string) ([]byte, error) {
	key, err := cacheKey(m, format)
	if err != nil {
		e.logger.Warn("could not derive render cache key", zap.Error(err))
		return e.Engine.Render(ctx, m, format)
	}

	if value, found := e.cache.Get(key); found {
		if data, ok := value.([]byte); ok {
			e.logger.Debug("render cache hit", zap.String("key", key))
			return data, nil
		}
		e.logger.Error("wrong type assertion when getting value", zap.String("key", key))
	}

	data, err := e.Engine.Render(ctx, m, format)
	if err != nil {
		return nil, err
	}
	e.cache.SetDefault(key, data)
	return data, nil
}

// Len is the number of cached images, expired ones included until cleanup.
func (e *Engine) Len() int {
	return e.cache.ItemCount()
}

// Flush empties the cache.
func (e *Engine) Flush() {
	e.cache.Flush()
}

func cacheKey(m *render.Map, format string) (string, error) {
	payload, err := json.Marshal(struct {
		Map    *render.Map
		Format string
	}{m, format})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
