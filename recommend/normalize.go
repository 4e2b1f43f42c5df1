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

import "gonum.org/v1/gonum/mat"

type Normalized struct {
	// Filled is the rating matrix with unrated cells replaced by column means.
	Filled *mat.Dense
	// Centered is Filled minus the mean of each row.
	Centered  *mat.Dense
	UserMeans []float64
}

// Normalize fills unrated cells with the mean rating of their column and centers every row.
// Columns without ratings fall back to the mean of all ratings.
func Normalize(m *RatingMatrix) *Normalized {
	rows, cols := m.Dims()

	var globalSum float64
	var globalCount int
	columnSum := make([]float64, cols)
	columnCount := make([]int, cols)
	for i := 0; i < rows; i++ {
		for j, ok := m.Rated[i].NextSet(0); ok; j, ok = m.Rated[i].NextSet(j + 1) {
			v := m.Values.At(i, int(j))
			columnSum[j] += v
			columnCount[j]++
			globalSum += v
			globalCount++
		}
	}
	var globalMean float64
	if globalCount > 0 {
		globalMean = globalSum / float64(globalCount)
	}
	fill := make([]float64, cols)
	for j := range fill {
		if columnCount[j] > 0 {
			fill[j] = columnSum[j] / float64(columnCount[j])
		} else {
			fill[j] = globalMean
		}
	}

	filled := mat.NewDense(rows, cols, nil)
	filled.Apply(func(i, j int, v float64) float64 {
		if m.IsRated(i, j) {
			return m.Values.At(i, j)
		}
		return fill[j]
	}, filled)

	means := make([]float64, rows)
	for i := range means {
		means[i] = mat.Sum(filled.RowView(i)) / float64(cols)
	}
	centered := mat.NewDense(rows, cols, nil)
	centered.Apply(func(i, j int, v float64) float64 {
		return v - means[i]
	}, filled)

	return &Normalized{
		Filled:    filled,
		Centered:  centered,
		UserMeans: means,
	}
}
