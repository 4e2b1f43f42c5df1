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

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gorse-io/anirec/base/log"
	"github.com/gorse-io/anirec/storage/data"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Fallback recommends the best rated items of the catalog to users without enough ratings.
type Fallback struct {
	filterFunc *vm.Program
}

// NewFallback compiles an optional filter expression evaluated against each item.
func NewFallback(filter string) (*Fallback, error) {
	if filter == "" {
		return &Fallback{}, nil
	}
	filterFunc, err := expr.Compile(filter, expr.Env(map[string]any{
		"item": data.Item{},
	}), expr.AsBool())
	if err != nil {
		return nil, errors.Annotate(err, "compile fallback filter")
	}
	return &Fallback{filterFunc: filterFunc}, nil
}

func (f *Fallback) accept(item data.Item) bool {
	if f.filterFunc == nil {
		return true
	}
	result, err := expr.Run(f.filterFunc, map[string]any{
		"item": item,
	})
	if err != nil {
		log.Logger().Error("evaluate fallback filter", zap.String("item_id", item.ItemId), zap.Error(err))
		return false
	}
	return result.(bool)
}

// Recommend returns up to topN items by aggregate rating. Items without an aggregate rating
// are skipped. Every entry is labeled "high".
func (f *Fallback) Recommend(ctx context.Context, store RatingStore, topN int) ([]Recommendation, error) {
	recommendations := make([]Recommendation, 0)
	if topN <= 0 {
		return recommendations, nil
	}
	n := topN
	if f.filterFunc != nil {
		n = 0
	}
	items, err := store.GetPopularItems(ctx, n)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, item := range items {
		if len(recommendations) >= topN {
			break
		}
		if item.AggregateRating <= 0 || !f.accept(item) {
			continue
		}
		recommendations = append(recommendations, Recommendation{
			Rank:            len(recommendations) + 1,
			Item:            item,
			Genres:          item.Genres(),
			PredictedRating: round2(item.AggregateRating),
			Confidence:      ConfidenceHigh,
		})
	}
	return recommendations, nil
}
