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

// Predict adds the mean of each row back and clamps the result into [low, high].
func Predict(reconstruction mat.Matrix, userMeans []float64, low, high float64) *mat.Dense {
	rows, cols := reconstruction.Dims()
	predicted := mat.NewDense(rows, cols, nil)
	predicted.Apply(func(i, j int, v float64) float64 {
		return min(max(v+userMeans[i], low), high)
	}, reconstruction)
	return predicted
}
