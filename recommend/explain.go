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

	"github.com/juju/errors"
)

// Explanation describes the data behind the recommendations of a user.
type Explanation struct {
	Users          int
	Titles         int
	Sparsity       float64
	UserRatings    int
	UserMean       float64
	Rank           int
	SingularValues []float64
	// Fallback is the reason for falling back to popular items, empty for personalized lists.
	Fallback string
}

// Explain runs the matrix pipeline without touching the cache.
func (e *Engine) Explain(ctx context.Context, userId string, numFactors int) (*Explanation, error) {
	records, err := e.store.GetRatings(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	m := BuildMatrix(records)
	if m == nil {
		return &Explanation{Fallback: ReasonNoRatings}, nil
	}
	explanation := &Explanation{Sparsity: m.Sparsity()}
	explanation.Users, explanation.Titles = m.Dims()
	i, ok := m.UserIndex(userId)
	if !ok {
		explanation.Fallback = ReasonUnknownUser
		return explanation, nil
	}
	explanation.UserRatings = m.CountRated(i)
	normalized := Normalize(m)
	explanation.UserMean = normalized.UserMeans[i]
	factorization, err := Factorize(normalized.Centered, numFactors)
	if err != nil {
		explanation.Fallback = ReasonFactorize
		return explanation, nil
	}
	explanation.Rank = factorization.Rank
	explanation.SingularValues = factorization.SingularValues
	if explanation.UserRatings < e.config.MinRatings {
		explanation.Fallback = ReasonFewRatings
	}
	return explanation, nil
}
