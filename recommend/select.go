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
	"math"
	"sort"

	"github.com/gorse-io/anirec/storage/data"
	"gonum.org/v1/gonum/mat"
)

const (
	ConfidenceVeryHigh = "very high"
	ConfidenceHigh     = "high"
	ConfidenceMedium   = "medium"
	ConfidenceLow      = "low"
)

// Recommendation is an entry of a recommendation list.
type Recommendation struct {
	Rank            int       `json:"rank"`
	Item            data.Item `json:"item"`
	Genres          []string  `json:"genres"`
	PredictedRating float64   `json:"predicted_rating"`
	Confidence      string    `json:"confidence"`
}

// Confidence labels a predicted rating. Labels never take part in ranking.
func Confidence(predicted float64) string {
	switch {
	case predicted >= 9.0:
		return ConfidenceVeryHigh
	case predicted >= 8.0:
		return ConfidenceHigh
	case predicted >= 7.0:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// Candidate is a column of the rating matrix with its predicted rating.
type Candidate struct {
	Column    int
	Predicted float64
}

// SelectCandidates returns unrated columns of a user with predictions not below minPredicted,
// best first. Columns with equal predictions keep their order. An unknown user or
// topN <= 0 yields no candidates.
func SelectCandidates(userId string, m *RatingMatrix, predicted mat.Matrix, topN int, minPredicted float64) []Candidate {
	i, ok := m.UserIndex(userId)
	if !ok || topN <= 0 {
		return nil
	}
	_, cols := m.Dims()
	candidates := make([]Candidate, 0, cols-m.CountRated(i))
	for j := 0; j < cols; j++ {
		if m.IsRated(i, j) {
			continue
		}
		if score := predicted.At(i, j); score >= minPredicted {
			candidates = append(candidates, Candidate{Column: j, Predicted: score})
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].Predicted > candidates[b].Predicted
	})
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates
}

// Select turns candidates into ranked recommendations. resolve maps a column to the item
// shown for it.
func Select(candidates []Candidate, resolve func(column int) (data.Item, error)) ([]Recommendation, error) {
	recommendations := make([]Recommendation, 0, len(candidates))
	for rank, candidate := range candidates {
		item, err := resolve(candidate.Column)
		if err != nil {
			return nil, err
		}
		recommendations = append(recommendations, Recommendation{
			Rank:            rank + 1,
			Item:            item,
			Genres:          item.Genres(),
			PredictedRating: round2(candidate.Predicted),
			Confidence:      Confidence(candidate.Predicted),
		})
	}
	return recommendations, nil
}
