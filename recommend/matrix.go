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
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/anirec/storage/data"
	"gonum.org/v1/gonum/mat"
)

// RatingMatrix is a dense user-by-title matrix. Rows are users and columns are normalized
// titles, both sorted. Cells without a rating hold zero and are cleared in Rated.
type RatingMatrix struct {
	UserIds []string
	Titles  []string
	// ItemIds holds the first item id seen for each column.
	ItemIds []string
	Values  *mat.Dense
	Rated   []*bitset.BitSet

	userIndex  map[string]int
	titleIndex map[string]int
}

// BuildMatrix keeps the latest rating of every (user, title) pair. Ties on the timestamp are
// won by the record that comes later. It returns nil if there are no ratings.
func BuildMatrix(records []data.RatingRecord) *RatingMatrix {
	if len(records) == 0 {
		return nil
	}
	type cellKey struct {
		userId string
		title  string
	}
	latest := make(map[cellKey]data.RatingRecord, len(records))
	firstItem := make(map[string]string)
	for _, record := range records {
		key := cellKey{userId: record.UserId, title: record.NormalizedTitle}
		if prev, exist := latest[key]; !exist || !record.Timestamp.Before(prev.Timestamp) {
			latest[key] = record
		}
		if _, exist := firstItem[record.NormalizedTitle]; !exist {
			firstItem[record.NormalizedTitle] = record.ItemId
		}
	}

	m := &RatingMatrix{
		userIndex:  make(map[string]int),
		titleIndex: make(map[string]int),
	}
	for key := range latest {
		if _, exist := m.userIndex[key.userId]; !exist {
			m.userIndex[key.userId] = 0
			m.UserIds = append(m.UserIds, key.userId)
		}
		if _, exist := m.titleIndex[key.title]; !exist {
			m.titleIndex[key.title] = 0
			m.Titles = append(m.Titles, key.title)
		}
	}
	sort.Strings(m.UserIds)
	sort.Strings(m.Titles)
	for i, userId := range m.UserIds {
		m.userIndex[userId] = i
	}
	m.ItemIds = make([]string, len(m.Titles))
	for j, title := range m.Titles {
		m.titleIndex[title] = j
		m.ItemIds[j] = firstItem[title]
	}

	m.Values = mat.NewDense(len(m.UserIds), len(m.Titles), nil)
	m.Rated = make([]*bitset.BitSet, len(m.UserIds))
	for i := range m.Rated {
		m.Rated[i] = bitset.New(uint(len(m.Titles)))
	}
	for key, record := range latest {
		i, j := m.userIndex[key.userId], m.titleIndex[key.title]
		m.Values.Set(i, j, record.Value)
		m.Rated[i].Set(uint(j))
	}
	return m
}

// Dims returns the number of users and the number of titles.
func (m *RatingMatrix) Dims() (int, int) {
	return len(m.UserIds), len(m.Titles)
}

// UserIndex returns the row of a user.
func (m *RatingMatrix) UserIndex(userId string) (int, bool) {
	i, ok := m.userIndex[userId]
	return i, ok
}

// TitleIndex returns the column of a normalized title.
func (m *RatingMatrix) TitleIndex(title string) (int, bool) {
	j, ok := m.titleIndex[title]
	return j, ok
}

func (m *RatingMatrix) IsRated(i, j int) bool {
	return m.Rated[i].Test(uint(j))
}

// CountRated returns the number of rated cells in a row.
func (m *RatingMatrix) CountRated(i int) int {
	return int(m.Rated[i].Count())
}

// Sparsity is the fraction of unrated cells.
func (m *RatingMatrix) Sparsity() float64 {
	rows, cols := m.Dims()
	var rated uint
	for _, mask := range m.Rated {
		rated += mask.Count()
	}
	return 1 - float64(rated)/float64(rows*cols)
}
