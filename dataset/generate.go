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
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/gorse-io/anirec/storage/data"
	"github.com/jaswdr/faker"
	"github.com/samber/lo"
)

var (
	genres        = []string{"Action", "Adventure", "Comedy", "Drama", "Fantasy", "Romance", "Sci-Fi", "Slice of Life", "Sports", "Mystery"}
	animeTypes    = []string{"TV", "Movie", "OVA", "ONA", "Special"}
	contentRating = []string{"G", "PG", "PG-13", "R", "R+"}
	statuses      = []string{"Finished Airing", "Currently Airing", "Not yet aired"}
)

// Generator produces dummy users, anime and ratings.
type Generator struct {
	faker faker.Faker
	now   time.Time
}

// NewGenerator creates a generator. The same seed yields the same data.
func NewGenerator(seed int64, now time.Time) *Generator {
	return &Generator{
		faker: faker.NewWithSeed(rand.NewSource(seed)),
		now:   now,
	}
}

// Items generates n anime with distinct titles.
func (g *Generator) Items(n int) []data.Item {
	items := make([]data.Item, 0, n)
	for i := 0; i < n; i++ {
		words := lo.Map(g.faker.Lorem().Words(g.faker.IntBetween(1, 3)), func(w string, _ int) string {
			return strings.ToUpper(w[:1]) + w[1:]
		})
		title := fmt.Sprintf("%s %d", strings.Join(words, " "), i+1)
		itemGenres := lo.Uniq([]string{
			g.faker.RandomStringElement(genres),
			g.faker.RandomStringElement(genres),
		})
		items = append(items, data.Item{
			ItemId:          fmt.Sprintf("anime%d", i+1),
			Title:           title,
			NormalizedTitle: data.NormalizeTitle(title),
			Genre:           strings.Join(itemGenres, ", "),
			TotalEpisode:    g.faker.IntBetween(1, 64),
			AnimeType:       g.faker.RandomStringElement(animeTypes),
			YearRelease:     g.faker.IntBetween(1980, g.now.Year()),
			ContentRating:   g.faker.RandomStringElement(contentRating),
			Status:          g.faker.RandomStringElement(statuses),
		})
	}
	return items
}

// Users generates n distinct user ids.
func (g *Generator) Users(n int) []string {
	users := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := strings.ToLower(g.faker.Person().FirstName())
		users = append(users, fmt.Sprintf("%s%d", name, i+1))
	}
	return users
}

// Ratings draws ratings per user between 1 and 10 with one decimal. Every user rates
// distinct items, at most len(items) of them.
func (g *Generator) Ratings(users []string, items []data.Item, perUser int) []data.Rating {
	if len(items) == 0 {
		return nil
	}
	perUser = min(perUser, len(items))
	ratings := make([]data.Rating, 0, len(users)*perUser)
	for _, userId := range users {
		offset := g.faker.IntBetween(0, len(items)-1)
		for j := 0; j < perUser; j++ {
			item := items[(offset+j)%len(items)]
			ratings = append(ratings, data.Rating{
				RatingKey: data.RatingKey{UserId: userId, ItemId: item.ItemId},
				Value:     g.faker.Float64(1, data.MinRating, data.MaxRating),
				Timestamp: g.now.Add(-time.Duration(g.faker.IntBetween(0, 365*24)) * time.Hour),
			})
		}
	}
	return ratings
}
