// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package recommend

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorse-io/anirec/base/log"
	"github.com/gorse-io/anirec/config"
	"github.com/gorse-io/anirec/storage/cache"
	"github.com/gorse-io/anirec/storage/data"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RatingStore is the part of the data store used by the engine.
type RatingStore interface {
	GetRatings(ctx context.Context) ([]data.RatingRecord, error)
	GetItemByNormalizedTitle(ctx context.Context, normalizedTitle string) (data.Item, error)
	GetPopularItems(ctx context.Context, n int) ([]data.Item, error)
	CountUserRatings(ctx context.Context, userId string) (int, error)
	BatchInsertRatings(ctx context.Context, ratings []data.Rating, overwrite bool) error
	DeleteRating(ctx context.Context, userId, itemId string) (int, error)
}

// Params of a recommendation request.
type Params struct {
	TopN         int
	NumFactors   int
	MinPredicted float64
}

func DefaultParams() Params {
	return Params{
		TopN:         1000,
		NumFactors:   8,
		MinPredicted: 6.5,
	}
}

// Engine computes recommendations from the rating store and memoizes them in the cache.
// It is safe for concurrent use.
type Engine struct {
	config   config.RecommendConfig
	store    RatingStore
	cache    cache.Database
	fallback *Fallback
	group    singleflight.Group

	// generations counts invalidations per user. A list computed under an older
	// generation is neither shared with new callers nor written to the cache.
	mu          sync.RWMutex
	generations map[string]uint64
}

func NewEngine(cfg config.RecommendConfig, store RatingStore, cacheStore cache.Database) (*Engine, error) {
	fallback, err := NewFallback(cfg.FallbackFilter)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Engine{
		config:      cfg,
		store:       store,
		cache:       cacheStore,
		fallback:    fallback,
		generations: make(map[string]uint64),
	}, nil
}

// Params returns the configured request defaults.
func (e *Engine) Params() Params {
	return Params{
		TopN:         e.config.TopN,
		NumFactors:   e.config.NumFactors,
		MinPredicted: e.config.MinPredicted,
	}
}

type result struct {
	recommendations []Recommendation
	ttl             time.Duration
}

// Recommend returns the recommendations of a user. Users without enough ratings get the
// best rated items of the catalog. Only failures of the rating store are returned.
func (e *Engine) Recommend(ctx context.Context, userId string, params Params) ([]Recommendation, error) {
	key := CacheKey{UserId: userId, NumFactors: params.NumFactors, TopN: params.TopN}
	if recommendations, ok := e.load(ctx, key); ok {
		CacheHitTotal.Inc()
		return recommendations, nil
	}
	CacheMissTotal.Inc()

	// read before the ratings are loaded
	generation := e.generation(userId)
	v, err, _ := e.group.Do(key.String()+"@"+strconv.FormatUint(generation, 10), func() (any, error) {
		start := time.Now()
		r, err := e.compute(ctx, userId, params)
		if err != nil {
			return nil, err
		}
		ComputeSeconds.Observe(time.Since(start).Seconds())
		e.save(ctx, key, generation, r)
		log.Logger().Debug("compute recommendations",
			zap.String("user_id", userId),
			zap.Int("n_factors", params.NumFactors),
			zap.Int("top_n", params.TopN),
			zap.Int("n_recommendations", len(r.recommendations)),
			zap.Duration("elapsed", time.Since(start)))
		return r.recommendations, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return v.([]Recommendation), nil
}

func (e *Engine) load(ctx context.Context, key CacheKey) ([]Recommendation, bool) {
	value, err := e.cache.Get(ctx, key.String())
	if err != nil {
		if !errors.Is(err, errors.NotFound) {
			log.Logger().Warn("failed to read recommendation cache", zap.String("key", key.String()), zap.Error(err))
		}
		return nil, false
	}
	var recommendations []Recommendation
	if err = json.Unmarshal(value, &recommendations); err != nil {
		log.Logger().Warn("failed to decode cached recommendations", zap.String("key", key.String()), zap.Error(err))
		return nil, false
	}
	return recommendations, true
}

func (e *Engine) generation(userId string) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generations[userId]
}

func (e *Engine) save(ctx context.Context, key CacheKey, generation uint64, r *result) {
	value, err := json.Marshal(r.recommendations)
	if err != nil {
		log.Logger().Warn("failed to encode recommendations", zap.String("key", key.String()), zap.Error(err))
		return
	}
	// invalidation waits for the write, so it cannot be missed by the group deletion
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.generations[key.UserId] != generation {
		log.Logger().Debug("discard outdated recommendations", zap.String("key", key.String()))
		return
	}
	if err = e.cache.Set(ctx, key.Group(), key.String(), value, r.ttl); err != nil {
		log.Logger().Warn("failed to write recommendation cache", zap.String("key", key.String()), zap.Error(err))
	}
}

func (e *Engine) compute(ctx context.Context, userId string, params Params) (*result, error) {
	records, err := e.store.GetRatings(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	m := BuildMatrix(records)
	if m == nil {
		return e.coldStart(ctx, userId, params, ReasonNoRatings)
	}
	i, ok := m.UserIndex(userId)
	if !ok {
		return e.coldStart(ctx, userId, params, ReasonUnknownUser)
	}
	if m.CountRated(i) < e.config.MinRatings {
		return e.coldStart(ctx, userId, params, ReasonFewRatings)
	}

	normalized := Normalize(m)
	factorization, err := Factorize(normalized.Centered, params.NumFactors)
	if err != nil {
		log.Logger().Warn("failed to factorize rating matrix", zap.String("user_id", userId), zap.Error(err))
		return e.coldStart(ctx, userId, params, ReasonFactorize)
	}
	predicted := Predict(factorization.Reconstruction, normalized.UserMeans, e.config.RatingMin, e.config.RatingMax)
	candidates := SelectCandidates(userId, m, predicted, params.TopN, params.MinPredicted)
	recommendations, err := Select(candidates, func(column int) (data.Item, error) {
		return e.resolve(ctx, m, column)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &result{recommendations: recommendations, ttl: e.config.PersonalizedTTL}, nil
}

func (e *Engine) coldStart(ctx context.Context, userId string, params Params, reason string) (*result, error) {
	FallbackTotalVec.WithLabelValues(reason).Inc()
	log.Logger().Debug("fall back to popular items", zap.String("user_id", userId), zap.String("reason", reason))
	recommendations, err := e.fallback.Recommend(ctx, e.store, params.TopN)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &result{recommendations: recommendations, ttl: e.config.ColdStartTTL}, nil
}

// resolve picks the item shown for a column: the first item under the title in the store,
// otherwise a bare item carrying the first item id seen in the ratings.
func (e *Engine) resolve(ctx context.Context, m *RatingMatrix, column int) (data.Item, error) {
	title := m.Titles[column]
	item, err := e.store.GetItemByNormalizedTitle(ctx, title)
	if errors.Is(err, errors.NotFound) {
		return data.Item{ItemId: m.ItemIds[column], NormalizedTitle: title}, nil
	} else if err != nil {
		return data.Item{}, errors.Trace(err)
	}
	return item, nil
}

// InvalidateCache removes every cached list of a user.
func (e *Engine) InvalidateCache(ctx context.Context, userId string) error {
	InvalidateTotal.Inc()
	e.mu.Lock()
	e.generations[userId]++
	e.mu.Unlock()
	if err := e.cache.DeleteGroup(ctx, UserGroup(userId)); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// RatingCount returns the number of ratings a user has stored.
func (e *Engine) RatingCount(ctx context.Context, userId string) (int, error) {
	count, err := e.store.CountUserRatings(ctx, userId)
	return count, errors.Trace(err)
}

// SubmitRating creates or updates a rating and invalidates the cache of the user.
func (e *Engine) SubmitRating(ctx context.Context, userId, itemId string, value float64) error {
	rating := data.Rating{
		RatingKey: data.RatingKey{UserId: userId, ItemId: itemId},
		Value:     value,
		Timestamp: time.Now(),
	}
	if err := e.store.BatchInsertRatings(ctx, []data.Rating{rating}, true); err != nil {
		return errors.Trace(err)
	}
	return e.InvalidateCache(ctx, userId)
}

// DeleteRating removes a rating. The cache of the user is invalidated if a rating was removed.
func (e *Engine) DeleteRating(ctx context.Context, userId, itemId string) (bool, error) {
	deleted, err := e.store.DeleteRating(ctx, userId, itemId)
	if err != nil {
		return false, errors.Trace(err)
	}
	if deleted == 0 {
		return false, nil
	}
	return true, e.InvalidateCache(ctx, userId)
}
