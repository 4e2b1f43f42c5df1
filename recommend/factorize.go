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
	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
)

type Factorization struct {
	// Reconstruction is U_k Σ_k V_kᵀ.
	Reconstruction *mat.Dense
	// SingularValues holds all singular values in descending order.
	SingularValues []float64
	// Rank is the number of factors actually kept.
	Rank int
}

// Factorize computes the thin SVD of a matrix and rebuilds it from the k largest singular
// values. k larger than the number of singular values keeps them all, k <= 0 keeps none.
func Factorize(a mat.Matrix, k int) (*Factorization, error) {
	rows, cols := a.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errors.Errorf("singular value decomposition of %dx%d matrix failed to converge", rows, cols)
	}
	values := svd.Values(nil)
	rank := min(max(k, 0), len(values))

	reconstruction := mat.NewDense(rows, cols, nil)
	if rank > 0 {
		var u, v mat.Dense
		svd.UTo(&u)
		svd.VTo(&v)
		uk := u.Slice(0, rows, 0, rank)
		vk := v.Slice(0, cols, 0, rank)
		var us mat.Dense
		us.Mul(uk, mat.NewDiagDense(rank, values[:rank]))
		reconstruction.Mul(&us, vk.T())
	}
	return &Factorization{
		Reconstruction: reconstruction,
		SingularValues: values,
		Rank:           rank,
	}, nil
}
