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

package data

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/gorse-io/anirec/base/log"
	"github.com/gorse-io/anirec/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.uber.org/zap"
)

var ErrItemNotExist = errors.NotFoundf("item")

const (
	MinRating = 1.0
	MaxRating = 10.0
)

var (
	spaces      = regexp.MustCompile(`\s+`)
	unusualRune = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s:!()\-.,'&/]+`)
)

// NormalizeTitle turns a display title into the key used to match ratings and items.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(strings.ToLower(title))
	title = spaces.ReplaceAllString(title, " ")
	title = unusualRune.ReplaceAllString(title, "")
	return strings.TrimSpace(title)
}

// Item stores meta data about an anime title.
type Item struct {
	ItemId          string  `gorm:"column:item_id;primaryKey" bson:"_id" json:"item_id"`
	Title           string  `gorm:"column:title" bson:"title" json:"title"`
	NormalizedTitle string  `gorm:"column:normalized_title;index" bson:"normalized_title" json:"normalized_title"`
	Genre           string  `gorm:"column:genre" bson:"genre" json:"genre"`
	TotalEpisode    int     `gorm:"column:total_episode" bson:"total_episode" json:"total_episode"`
	AnimeType       string  `gorm:"column:anime_type" bson:"anime_type" json:"anime_type"`
	YearRelease     int     `gorm:"column:year_release" bson:"year_release" json:"year_release"`
	ContentRating   string  `gorm:"column:content_rating" bson:"content_rating" json:"content_rating"`
	Status          string  `gorm:"column:status" bson:"status" json:"status"`
	AggregateRating float64 `gorm:"column:total_rating;index" bson:"total_rating" json:"total_rating"`
	Cover           string  `gorm:"column:cover" bson:"cover" json:"cover"`
	Wallpaper       string  `gorm:"column:wallpaper" bson:"wallpaper" json:"wallpaper"`
}

// Genres splits the comma separated genre field.
func (item *Item) Genres() []string {
	genres := lo.Map(strings.Split(item.Genre, ","), func(g string, _ int) string {
		return strings.TrimSpace(g)
	})
	return lo.Compact(genres)
}

// RatingKey identifies a rating.
type RatingKey struct {
	UserId string `gorm:"column:user_id;primaryKey;index" bson:"user_id"`
	ItemId string `gorm:"column:item_id;primaryKey" bson:"item_id"`
}

// Rating is the score a user gave to an item.
type Rating struct {
	RatingKey `gorm:"embedded" bson:",inline"`
	Value     float64   `gorm:"column:rating" bson:"rating"`
	Timestamp time.Time `gorm:"column:time_stamp" bson:"time_stamp"`
}

// RatingRecord is a rating joined with the normalized title of the rated item.
type RatingRecord struct {
	Rating
	NormalizedTitle string
}

// ValidateRating checks that a rating lies in the rating domain.
func ValidateRating(rating Rating) error {
	if rating.UserId == "" || rating.ItemId == "" {
		return errors.NotValidf("rating key (%q, %q)", rating.UserId, rating.ItemId)
	}
	if rating.Value < MinRating || rating.Value > MaxRating {
		return errors.NotValidf("rating %v of user %s on item %s", rating.Value, rating.UserId, rating.ItemId)
	}
	return nil
}

type Database interface {
	Init() error
	Ping() error
	Close() error
	Purge() error
	BatchInsertItems(ctx context.Context, items []Item) error
	GetItem(ctx context.Context, itemId string) (Item, error)
	// GetItemByNormalizedTitle returns the item with the smallest id among items sharing the title.
	GetItemByNormalizedTitle(ctx context.Context, normalizedTitle string) (Item, error)
	// GetPopularItems returns items with a positive aggregate rating, best first. n <= 0 returns all.
	GetPopularItems(ctx context.Context, n int) ([]Item, error)
	BatchInsertRatings(ctx context.Context, ratings []Rating, overwrite bool) error
	DeleteRating(ctx context.Context, userId, itemId string) (int, error)
	ClearRatings(ctx context.Context) error
	// GetRatings returns all ratings joined with item titles, oldest first.
	GetRatings(ctx context.Context) ([]RatingRecord, error)
	GetUserRatings(ctx context.Context, userId string) ([]Rating, error)
	CountUserRatings(ctx context.Context, userId string) (int, error)
}

// Open a connection to a database. Pool options also bound the MongoDB connection pool.
func Open(path, tablePrefix string, opts ...storage.Option) (Database, error) {
	var err error
	if storage.IsSQL(path) {
		database := new(SQLDatabase)
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.gormDB, database.driver, err = storage.OpenSQL(path, tablePrefix, opts...); err != nil {
			return nil, errors.Trace(err)
		}
		log.Logger().Debug("open data store", zap.String("driver", database.driver.String()),
			zap.String("path", log.RedactDBURL(path)))
		return database, nil
	} else if strings.HasPrefix(path, storage.MongoPrefix) || strings.HasPrefix(path, storage.MongoSrvPrefix) {
		database := new(MongoDB)
		opt := storage.NewOptions(opts...)
		clientOpts := options.Client().ApplyURI(path)
		clientOpts.Monitor = otelmongo.NewMonitor()
		if opt.MaxOpenConns > 0 {
			clientOpts.SetMaxPoolSize(uint64(opt.MaxOpenConns))
		}
		if database.client, err = mongo.Connect(context.Background(), clientOpts); err != nil {
			return nil, errors.Trace(err)
		}
		// parse DSN and extract database name
		if cs, err := connstring.ParseAndValidate(path); err != nil {
			return nil, errors.Trace(err)
		} else {
			database.dbName = cs.Database
			database.TablePrefix = storage.TablePrefix(tablePrefix)
		}
		return database, nil
	}
	return nil, errors.Errorf("unknown database: %s", log.RedactDBURL(path))
}
