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
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorse-io/anirec/config"
	"github.com/gorse-io/anirec/storage/cache"
	"github.com/gorse-io/anirec/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// mockStore keeps items and ratings in memory.
type mockStore struct {
	mu      sync.Mutex
	items   []data.Item
	ratings []data.Rating
	err     error
	clock   int
}

func newMockStore(items ...data.Item) *mockStore {
	for i := range items {
		items[i].NormalizedTitle = data.NormalizeTitle(items[i].Title)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ItemId < items[j].ItemId
	})
	return &mockStore{items: items}
}

func (s *mockStore) rate(userId, itemId string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock++
	s.ratings = append(s.ratings, data.Rating{
		RatingKey: data.RatingKey{UserId: userId, ItemId: itemId},
		Value:     value,
		Timestamp: time.Unix(int64(s.clock), 0),
	})
}

func (s *mockStore) GetRatings(context.Context) ([]data.RatingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	titles := make(map[string]string)
	for _, item := range s.items {
		titles[item.ItemId] = item.NormalizedTitle
	}
	return lo.Map(s.ratings, func(rating data.Rating, _ int) data.RatingRecord {
		title, ok := titles[rating.ItemId]
		if !ok {
			title = data.NormalizeTitle(rating.ItemId)
		}
		return data.RatingRecord{Rating: rating, NormalizedTitle: title}
	}), nil
}

func (s *mockStore) GetItemByNormalizedTitle(_ context.Context, normalizedTitle string) (data.Item, error) {
	for _, item := range s.items {
		if item.NormalizedTitle == normalizedTitle {
			return item, nil
		}
	}
	return data.Item{}, data.ErrItemNotExist
}

func (s *mockStore) GetPopularItems(_ context.Context, n int) ([]data.Item, error) {
	if s.err != nil {
		return nil, s.err
	}
	items := lo.Filter(s.items, func(item data.Item, _ int) bool {
		return item.AggregateRating > 0
	})
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].AggregateRating > items[j].AggregateRating
	})
	if n > 0 && len(items) > n {
		items = items[:n]
	}
	return items, nil
}

func (s *mockStore) CountUserRatings(_ context.Context, userId string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.CountBy(s.ratings, func(rating data.Rating) bool {
		return rating.UserId == userId
	}), nil
}

func (s *mockStore) BatchInsertRatings(_ context.Context, ratings []data.Rating, _ bool) error {
	for _, rating := range ratings {
		if err := data.ValidateRating(rating); err != nil {
			return err
		}
	}
	for _, rating := range ratings {
		s.rate(rating.UserId, rating.ItemId, rating.Value)
	}
	return nil
}

func (s *mockStore) DeleteRating(_ context.Context, userId, itemId string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.ratings)
	s.ratings = lo.Reject(s.ratings, func(rating data.Rating, _ int) bool {
		return rating.UserId == userId && rating.ItemId == itemId
	})
	return n - len(s.ratings), nil
}

// recordingCache remembers the TTL of every write.
type recordingCache struct {
	cache.Database
	mu   sync.Mutex
	ttls map[string]time.Duration
}

func (c *recordingCache) Set(ctx context.Context, group, name string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.ttls[name] = ttl
	c.mu.Unlock()
	return c.Database.Set(ctx, group, name, value, ttl)
}

// brokenCache fails every operation.
type brokenCache struct {
	cache.Database
}

func (brokenCache) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenCache) DeleteGroup(context.Context, string) error {
	return errors.New("connection refused")
}

// pausingStore holds the first GetRatings after the ratings were read until released.
type pausingStore struct {
	*mockStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (s *pausingStore) GetRatings(ctx context.Context) ([]data.RatingRecord, error) {
	records, err := s.mockStore.GetRatings(ctx)
	s.once.Do(func() {
		close(s.read)
		<-s.release
	})
	return records, err
}

func animeItems(n int) []data.Item {
	items := make([]data.Item, n)
	for i := range items {
		items[i] = data.Item{
			ItemId:          strconv.Itoa(i + 1),
			Title:           "Anime " + strconv.Itoa(i+1),
			Genre:           "Action, Fantasy",
			AggregateRating: 5 + float64((i*7)%10)/2,
		}
	}
	return items
}

type EngineTestSuite struct {
	suite.Suite
	store  *mockStore
	cache  *recordingCache
	engine *Engine
}

func (suite *EngineTestSuite) SetupTest() {
	var err error
	suite.store = newMockStore(animeItems(6)...)
	suite.cache = &recordingCache{Database: cache.NewMemory(), ttls: make(map[string]time.Duration)}
	suite.engine, err = NewEngine(config.GetDefaultConfig().Recommend, suite.store, suite.cache)
	suite.NoError(err)
}

func (suite *EngineTestSuite) TearDownTest() {
	suite.NoError(suite.cache.Close())
}

// rateScenario fills five users rating six items. User A rates items 1 to 4.
func (suite *EngineTestSuite) rateScenario() {
	for _, r := range []struct {
		userId string
		itemId string
		value  float64
	}{
		{"A", "1", 8}, {"A", "2", 9}, {"A", "3", 7.5}, {"A", "4", 8.5},
		{"B", "1", 7}, {"B", "2", 8}, {"B", "5", 9}, {"B", "6", 6},
		{"C", "2", 6}, {"C", "3", 7}, {"C", "5", 8}, {"C", "6", 9},
		{"D", "1", 9}, {"D", "4", 7}, {"D", "5", 6}, {"D", "6", 8},
		{"E", "3", 8}, {"E", "4", 9}, {"E", "5", 7}, {"E", "6", 7.5},
	} {
		suite.store.rate(r.userId, r.itemId, r.value)
	}
}

func itemIds(recommendations []Recommendation) []string {
	return lo.Map(recommendations, func(r Recommendation, _ int) string {
		return r.Item.ItemId
	})
}

func (suite *EngineTestSuite) TestPersonalized() {
	ctx := context.Background()
	suite.rateScenario()
	recommendations, err := suite.engine.Recommend(ctx, "A", Params{TopN: 2, NumFactors: 2, MinPredicted: 1})
	suite.NoError(err)
	if suite.Len(recommendations, 2) {
		suite.ElementsMatch([]string{"5", "6"}, itemIds(recommendations))
		suite.GreaterOrEqual(recommendations[0].PredictedRating, recommendations[1].PredictedRating)
		suite.Equal(1, recommendations[0].Rank)
		suite.Equal(2, recommendations[1].Rank)
		suite.Equal([]string{"Action", "Fantasy"}, recommendations[0].Genres)
	}
	suite.Equal(60*time.Minute, suite.cache.ttls[CacheKey{UserId: "A", NumFactors: 2, TopN: 2}.String()])
}

func (suite *EngineTestSuite) TestMinPredictedTooHigh() {
	ctx := context.Background()
	suite.rateScenario()
	recommendations, err := suite.engine.Recommend(ctx, "A", Params{TopN: 10, NumFactors: 8, MinPredicted: 9.5})
	suite.NoError(err)
	suite.NotNil(recommendations)
	suite.Empty(recommendations)
}

func (suite *EngineTestSuite) TestNoRatings() {
	ctx := context.Background()
	suite.store = newMockStore(animeItems(10)...)
	engine, err := NewEngine(config.GetDefaultConfig().Recommend, suite.store, suite.cache)
	suite.NoError(err)
	recommendations, err := engine.Recommend(ctx, "anyone", DefaultParams())
	suite.NoError(err)
	if suite.Len(recommendations, 10) {
		for i, r := range recommendations {
			suite.Equal(i+1, r.Rank)
			suite.Equal(ConfidenceHigh, r.Confidence)
			suite.Equal(r.Item.AggregateRating, r.PredictedRating)
			if i > 0 {
				suite.GreaterOrEqual(recommendations[i-1].PredictedRating, r.PredictedRating)
			}
		}
	}
	suite.Equal(30*time.Minute, suite.cache.ttls[CacheKey{UserId: "anyone", NumFactors: 8, TopN: 1000}.String()])
}

func (suite *EngineTestSuite) TestColdStartThreshold() {
	ctx := context.Background()
	suite.rateScenario()
	popular, err := suite.engine.fallback.Recommend(ctx, suite.store, 1000)
	suite.NoError(err)
	// two ratings
	suite.store.rate("F", "5", 10)
	suite.store.rate("F", "6", 10)
	recommendations, err := suite.engine.Recommend(ctx, "F", DefaultParams())
	suite.NoError(err)
	suite.Equal(popular, recommendations)
	suite.Equal(30*time.Minute, suite.cache.ttls[CacheKey{UserId: "F", NumFactors: 8, TopN: 1000}.String()])
	explanation, err := suite.engine.Explain(ctx, "F", 8)
	suite.NoError(err)
	suite.Equal(ReasonFewRatings, explanation.Fallback)
	// three ratings
	suite.NoError(suite.engine.SubmitRating(ctx, "F", "4", 10))
	recommendations, err = suite.engine.Recommend(ctx, "F", Params{TopN: 1000, NumFactors: 8, MinPredicted: 1})
	suite.NoError(err)
	suite.ElementsMatch([]string{"1", "2", "3"}, itemIds(recommendations))
	suite.Equal(60*time.Minute, suite.cache.ttls[CacheKey{UserId: "F", NumFactors: 8, TopN: 1000}.String()])
	explanation, err = suite.engine.Explain(ctx, "F", 8)
	suite.NoError(err)
	suite.Empty(explanation.Fallback)
	suite.Equal(3, explanation.UserRatings)
}

func (suite *EngineTestSuite) TestUnknownUser() {
	ctx := context.Background()
	suite.rateScenario()
	recommendations, err := suite.engine.Recommend(ctx, "stranger", Params{TopN: 3, NumFactors: 8, MinPredicted: 6.5})
	suite.NoError(err)
	suite.Len(recommendations, 3)
	for _, r := range recommendations {
		suite.Equal(ConfidenceHigh, r.Confidence)
	}
	explanation, err := suite.engine.Explain(ctx, "stranger", 8)
	suite.NoError(err)
	suite.Equal(ReasonUnknownUser, explanation.Fallback)
	suite.Equal(5, explanation.Users)
	suite.Equal(6, explanation.Titles)
}

func (suite *EngineTestSuite) TestIdempotent() {
	ctx := context.Background()
	suite.rateScenario()
	params := Params{TopN: 10, NumFactors: 3, MinPredicted: 1}
	first, err := suite.engine.Recommend(ctx, "A", params)
	suite.NoError(err)
	// from cache
	second, err := suite.engine.Recommend(ctx, "A", params)
	suite.NoError(err)
	suite.Equal(first, second)
	// recomputed
	suite.NoError(suite.cache.Purge())
	third, err := suite.engine.Recommend(ctx, "A", params)
	suite.NoError(err)
	suite.Equal(first, third)
}

func (suite *EngineTestSuite) TestCacheHit() {
	ctx := context.Background()
	suite.rateScenario()
	params := Params{TopN: 10, NumFactors: 2, MinPredicted: 1}
	first, err := suite.engine.Recommend(ctx, "A", params)
	suite.NoError(err)
	// a cached list survives changes of the store until invalidated
	suite.store.rate("A", "5", 1)
	second, err := suite.engine.Recommend(ctx, "A", params)
	suite.NoError(err)
	suite.Equal(first, second)
	suite.NoError(suite.engine.InvalidateCache(ctx, "A"))
	third, err := suite.engine.Recommend(ctx, "A", params)
	suite.NoError(err)
	suite.Equal([]string{"6"}, itemIds(third))
}

func (suite *EngineTestSuite) TestSubmitRatingInvalidates() {
	ctx := context.Background()
	suite.rateScenario()
	params := Params{TopN: 10, NumFactors: 2, MinPredicted: 1}
	other := Params{TopN: 6, NumFactors: 8, MinPredicted: 1}
	before, err := suite.engine.Recommend(ctx, "A", params)
	suite.NoError(err)
	_, err = suite.engine.Recommend(ctx, "A", other)
	suite.NoError(err)
	_, err = suite.engine.Recommend(ctx, "B", params)
	suite.NoError(err)
	// rate the best recommendation
	suite.NoError(suite.engine.SubmitRating(ctx, "A", before[0].Item.ItemId, 3))
	for _, p := range []Params{params, other} {
		_, err = suite.cache.Get(ctx, CacheKey{UserId: "A", NumFactors: p.NumFactors, TopN: p.TopN}.String())
		suite.True(errors.Is(err, errors.NotFound))
	}
	_, err = suite.cache.Get(ctx, CacheKey{UserId: "B", NumFactors: 2, TopN: 10}.String())
	suite.NoError(err)
	after, err := suite.engine.Recommend(ctx, "A", params)
	suite.NoError(err)
	suite.NotEqual(before, after)
	suite.NotContains(itemIds(after), before[0].Item.ItemId)
	// invalid ratings are rejected
	err = suite.engine.SubmitRating(ctx, "A", "6", 11)
	suite.True(errors.Is(err, errors.NotValid))
}

func (suite *EngineTestSuite) TestDeleteRating() {
	ctx := context.Background()
	suite.rateScenario()
	params := Params{TopN: 10, NumFactors: 2, MinPredicted: 1}
	_, err := suite.engine.Recommend(ctx, "A", params)
	suite.NoError(err)
	deleted, err := suite.engine.DeleteRating(ctx, "A", "1")
	suite.NoError(err)
	suite.True(deleted)
	_, err = suite.cache.Get(ctx, CacheKey{UserId: "A", NumFactors: 2, TopN: 10}.String())
	suite.True(errors.Is(err, errors.NotFound))
	deleted, err = suite.engine.DeleteRating(ctx, "A", "1")
	suite.NoError(err)
	suite.False(deleted)
	count, err := suite.engine.RatingCount(ctx, "A")
	suite.NoError(err)
	suite.Equal(3, count)
}

func (suite *EngineTestSuite) TestRatingCount() {
	ctx := context.Background()
	suite.rateScenario()
	count, err := suite.engine.RatingCount(ctx, "A")
	suite.NoError(err)
	suite.Equal(4, count)
	count, err = suite.engine.RatingCount(ctx, "nobody")
	suite.NoError(err)
	suite.Zero(count)
}

func (suite *EngineTestSuite) TestStoreError() {
	ctx := context.Background()
	suite.store.err = errors.New("database is locked")
	_, err := suite.engine.Recommend(ctx, "A", DefaultParams())
	suite.Error(err)
	suite.Empty(suite.cache.ttls)
}

func (suite *EngineTestSuite) TestBrokenCache() {
	ctx := context.Background()
	suite.rateScenario()
	engine, err := NewEngine(config.GetDefaultConfig().Recommend, suite.store, brokenCache{})
	suite.NoError(err)
	recommendations, err := engine.Recommend(ctx, "A", Params{TopN: 2, NumFactors: 2, MinPredicted: 1})
	suite.NoError(err)
	suite.Len(recommendations, 2)
	suite.Error(engine.InvalidateCache(ctx, "A"))
	suite.Error(engine.SubmitRating(ctx, "A", "5", 5))
}

func (suite *EngineTestSuite) TestConcurrent() {
	ctx := context.Background()
	suite.rateScenario()
	params := Params{TopN: 10, NumFactors: 2, MinPredicted: 1}
	results := make([][]Recommendation, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := suite.engine.Recommend(ctx, "A", params)
			suite.NoError(err)
			results[i] = r
		}(i)
	}
	wg.Wait()
	for _, r := range results[1:] {
		suite.Equal(results[0], r)
	}
}

func (suite *EngineTestSuite) TestRatingDuringCompute() {
	ctx := context.Background()
	store := &pausingStore{
		mockStore: suite.store,
		read:      make(chan struct{}),
		release:   make(chan struct{}),
	}
	engine, err := NewEngine(config.GetDefaultConfig().Recommend, store, suite.cache)
	suite.NoError(err)
	for _, r := range [][2]string{{"A", "1"}, {"A", "2"}, {"B", "1"}, {"B", "4"}, {"B", "5"}, {"C", "2"}, {"C", "5"}, {"C", "6"}} {
		suite.store.rate(r[0], r[1], 8)
	}
	params := Params{TopN: 10, NumFactors: 2, MinPredicted: 1}

	// A has too few ratings when the first computation reads the store
	done := make(chan []Recommendation)
	go func() {
		r, err := engine.Recommend(ctx, "A", params)
		suite.NoError(err)
		done <- r
	}()
	<-store.read
	suite.NoError(engine.SubmitRating(ctx, "A", "3", 7))
	after, err := engine.Recommend(ctx, "A", params)
	suite.NoError(err)
	for _, itemId := range []string{"1", "2", "3"} {
		suite.NotContains(itemIds(after), itemId)
	}
	close(store.release)
	stale := <-done
	suite.Contains(itemIds(stale), "3")

	// the outdated list is not cached
	key := CacheKey{UserId: "A", NumFactors: params.NumFactors, TopN: params.TopN}.String()
	suite.Equal(config.GetDefaultConfig().Recommend.PersonalizedTTL, suite.cache.ttls[key])
	cached, err := engine.Recommend(ctx, "A", params)
	suite.NoError(err)
	suite.Equal(after, cached)
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestFallbackFilter(t *testing.T) {
	ctx := context.Background()
	items := animeItems(10)
	for i := range items {
		items[i].YearRelease = 2000 + i*2
	}
	items[9].AggregateRating = 0
	store := newMockStore(items...)
	fallback, err := NewFallback("item.YearRelease >= 2010")
	assert.NoError(t, err)
	recommendations, err := fallback.Recommend(ctx, store, 3)
	assert.NoError(t, err)
	assert.Len(t, recommendations, 3)
	for i, r := range recommendations {
		assert.GreaterOrEqual(t, r.Item.YearRelease, 2010)
		assert.Equal(t, i+1, r.Rank)
	}
	// empty catalog
	recommendations, err = fallback.Recommend(ctx, newMockStore(), 3)
	assert.NoError(t, err)
	assert.NotNil(t, recommendations)
	assert.Empty(t, recommendations)
	// invalid expression
	_, err = NewFallback("item.YearRelease >=")
	assert.Error(t, err)
	_, err = NewEngine(config.RecommendConfig{FallbackFilter: "item.Unknown"}, store, nil)
	assert.Error(t, err)
}

func TestCacheKey(t *testing.T) {
	key := CacheKey{UserId: "alice", NumFactors: 8, TopN: 10}
	assert.Equal(t, "recommend/alice/8/10", key.String())
	assert.Equal(t, "recommend/alice", key.Group())
	assert.NotEqual(t, key.String(), CacheKey{UserId: "alice", NumFactors: 10, TopN: 8}.String())
	assert.Equal(t, DefaultParams(), Params{TopN: 1000, NumFactors: 8, MinPredicted: 6.5})
}
