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

package dataset

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/anirec/base"
	"github.com/gorse-io/anirec/base/log"
	"github.com/gorse-io/anirec/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const maxLineSize = 1 << 20

// Report counts the rows (or cells for wide files) a loader accepted and skipped.
type Report struct {
	Accepted int
	Skipped  int
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return sc
}

// header maps column names to positions.
type header map[string]int

func parseHeader(fields []string) header {
	h := make(header, len(fields))
	for i, field := range fields {
		name := strings.ToLower(strings.TrimSpace(field))
		if _, exist := h[name]; !exist {
			h[name] = i
		}
	}
	return h
}

func (h header) require(names ...string) error {
	for _, name := range names {
		if _, ok := h[name]; !ok {
			return errors.NotFoundf("column %q", name)
		}
	}
	return nil
}

func (h header) get(fields []string, name string) string {
	if i, ok := h[name]; ok && i < len(fields) {
		return strings.TrimSpace(fields[i])
	}
	return ""
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	// spreadsheets export integers as floats
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return int(f), nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, errors.Trace(err)
}

// ReadItems loads the anime catalog from a CSV file with a header row. The title column is
// required. A missing item id falls back to the normalized title.
func ReadItems(r io.Reader) ([]data.Item, Report, error) {
	var (
		items  []data.Item
		report Report
		h      header
		err    error
	)
	readErr := base.ReadLines(newScanner(r), ",", func(line int, fields []string) bool {
		if line == 0 {
			h = parseHeader(fields)
			err = h.require("title")
			return err == nil
		}
		item, parseErr := parseItem(h, fields)
		if parseErr != nil {
			log.Logger().Warn("skip invalid item", zap.Int("line", line+1), zap.Error(parseErr))
			report.Skipped++
			return true
		}
		items = append(items, item)
		report.Accepted++
		return true
	})
	if readErr != nil {
		return nil, report, errors.Trace(readErr)
	}
	if err != nil {
		return nil, report, errors.Trace(err)
	}
	return items, report, nil
}

func parseItem(h header, fields []string) (data.Item, error) {
	item := data.Item{
		ItemId:        h.get(fields, "item_id"),
		Title:         h.get(fields, "title"),
		Genre:         h.get(fields, "genre"),
		AnimeType:     h.get(fields, "anime_type"),
		ContentRating: h.get(fields, "content_rating"),
		Status:        h.get(fields, "status"),
		Cover:         h.get(fields, "cover"),
		Wallpaper:     h.get(fields, "wallpaper"),
	}
	if item.Title == "" {
		return item, errors.NotValidf("empty title")
	}
	item.NormalizedTitle = data.NormalizeTitle(item.Title)
	if item.ItemId == "" {
		item.ItemId = item.NormalizedTitle
	}
	var err error
	if item.TotalEpisode, err = parseInt(h.get(fields, "total_episode")); err != nil {
		return item, errors.Annotate(err, "total_episode")
	}
	if item.YearRelease, err = parseInt(h.get(fields, "year_release")); err != nil {
		return item, errors.Annotate(err, "year_release")
	}
	if item.AggregateRating, err = parseFloat(h.get(fields, "total_rating")); err != nil {
		return item, errors.Annotate(err, "total_rating")
	}
	return item, nil
}

var errNotRated = errors.New("not rated")

// parseValue returns errNotRated for empty or zero cells.
func parseValue(s string) (float64, error) {
	value, err := parseFloat(s)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if value == 0 {
		return 0, errNotRated
	}
	return value, nil
}

// ReadRatings loads ratings in the long layout: user_id,item_id,rating[,timestamp]. Empty or
// zero ratings mean "not rated" and, like out-of-range ratings, are skipped. Rows without a
// timestamp are stamped with now.
func ReadRatings(r io.Reader, now time.Time) ([]data.Rating, Report, error) {
	var (
		ratings []data.Rating
		report  Report
		h       header
		err     error
	)
	readErr := base.ReadLines(newScanner(r), ",", func(line int, fields []string) bool {
		if line == 0 {
			h = parseHeader(fields)
			err = h.require("user_id", "item_id", "rating")
			return err == nil
		}
		rating, parseErr := parseRating(h, fields, now)
		if parseErr != nil {
			if parseErr != errNotRated {
				log.Logger().Warn("skip invalid rating", zap.Int("line", line+1), zap.Error(parseErr))
			}
			report.Skipped++
			return true
		}
		ratings = append(ratings, rating)
		report.Accepted++
		return true
	})
	if readErr != nil {
		return nil, report, errors.Trace(readErr)
	}
	if err != nil {
		return nil, report, errors.Trace(err)
	}
	return ratings, report, nil
}

func parseRating(h header, fields []string, now time.Time) (data.Rating, error) {
	rating := data.Rating{
		RatingKey: data.RatingKey{
			UserId: h.get(fields, "user_id"),
			ItemId: h.get(fields, "item_id"),
		},
		Timestamp: now,
	}
	var err error
	if rating.Value, err = parseValue(h.get(fields, "rating")); err != nil {
		return rating, err
	}
	if ts := h.get(fields, "timestamp"); ts != "" {
		if rating.Timestamp, err = dateparse.ParseAny(ts); err != nil {
			return rating, errors.Trace(err)
		}
	}
	return rating, errors.Trace(data.ValidateRating(rating))
}

// Resolver maps a column title of a wide rating sheet to an item id.
type Resolver func(title string) (string, error)

// ReadWideRatings loads ratings in the spreadsheet layout: the first column holds user names
// and every other column header is an anime title. Empty or zero cells are unrated. A column
// whose title cannot be resolved fails the whole load.
func ReadWideRatings(r io.Reader, resolve Resolver, now time.Time) ([]data.Rating, Report, error) {
	var (
		ratings []data.Rating
		report  Report
		itemIds []string
		err     error
	)
	readErr := base.ReadLines(newScanner(r), ",", func(line int, fields []string) bool {
		if line == 0 {
			if len(fields) < 2 {
				err = errors.NotValidf("wide header with %d columns", len(fields))
				return false
			}
			itemIds = make([]string, len(fields)-1)
			for i, title := range fields[1:] {
				if itemIds[i], err = resolve(strings.TrimSpace(title)); err != nil {
					err = errors.Annotatef(err, "column %d", i+2)
					return false
				}
			}
			return true
		}
		userId := strings.TrimSpace(fields[0])
		if base.ValidateId(userId) != nil {
			log.Logger().Warn("skip row without user", zap.Int("line", line+1))
			report.Skipped += lo.CountBy(fields[1:], func(cell string) bool {
				_, parseErr := parseValue(strings.TrimSpace(cell))
				return parseErr != errNotRated
			})
			return true
		}
		for i, cell := range fields[1:] {
			if i >= len(itemIds) {
				break
			}
			value, parseErr := parseValue(strings.TrimSpace(cell))
			if parseErr == errNotRated {
				continue
			}
			rating := data.Rating{
				RatingKey: data.RatingKey{UserId: userId, ItemId: itemIds[i]},
				Value:     value,
				Timestamp: now,
			}
			if parseErr == nil {
				parseErr = data.ValidateRating(rating)
			}
			if parseErr != nil {
				log.Logger().Warn("skip invalid rating",
					zap.Int("line", line+1), zap.Int("column", i+2), zap.Error(parseErr))
				report.Skipped++
				continue
			}
			ratings = append(ratings, rating)
			report.Accepted++
		}
		return true
	})
	if readErr != nil {
		return nil, report, errors.Trace(readErr)
	}
	if err != nil {
		return nil, report, errors.Trace(err)
	}
	return ratings, report, nil
}

// AffectedUsers returns the users owning at least one of the ratings.
func AffectedUsers(ratings []data.Rating) mapset.Set[string] {
	users := mapset.NewThreadUnsafeSet[string]()
	for _, rating := range ratings {
		users.Add(rating.UserId)
	}
	return users
}

// AffectedItems returns the items rated by at least one of the ratings.
func AffectedItems(ratings []data.Rating) mapset.Set[string] {
	items := mapset.NewThreadUnsafeSet[string]()
	for _, rating := range ratings {
		items.Add(rating.ItemId)
	}
	return items
}

// AggregateRatings averages ratings per item, rounded to 2 decimals.
func AggregateRatings(ratings []data.Rating) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, rating := range ratings {
		sums[rating.ItemId] += rating.Value
		counts[rating.ItemId]++
	}
	aggregates := make(map[string]float64, len(sums))
	for itemId, sum := range sums {
		aggregates[itemId] = math.Round(sum/float64(counts[itemId])*100) / 100
	}
	return aggregates
}
