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

	"github.com/gorse-io/anirec/storage"
	"github.com/juju/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLDatabase stores items and ratings in MySQL, PostgreSQL or SQLite.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	driver storage.SQLDriver
}

// Init tables and indices.
func (d *SQLDatabase) Init() error {
	if err := d.gormDB.Table(d.ItemsTable()).AutoMigrate(&Item{}); err != nil {
		return errors.Trace(err)
	}
	if err := d.gormDB.Table(d.RatingsTable()).AutoMigrate(&Rating{}); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (d *SQLDatabase) Ping() error {
	db, err := d.gormDB.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(db.Ping())
}

func (d *SQLDatabase) Close() error {
	db, err := d.gormDB.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(db.Close())
}

func (d *SQLDatabase) Purge() error {
	for _, table := range []string{d.RatingsTable(), d.ItemsTable()} {
		if err := d.gormDB.Exec("DELETE FROM " + table).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// BatchInsertItems inserts items, replacing existing items with the same id.
func (d *SQLDatabase) BatchInsertItems(ctx context.Context, items []Item) error {
	items = dedupItems(items)
	if len(items) == 0 {
		return nil
	}
	err := d.gormDB.WithContext(ctx).Table(d.ItemsTable()).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&items).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) GetItem(ctx context.Context, itemId string) (Item, error) {
	var item Item
	err := d.gormDB.WithContext(ctx).Table(d.ItemsTable()).
		Where("item_id = ?", itemId).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Item{}, ErrItemNotExist
	}
	return item, errors.Trace(err)
}

func (d *SQLDatabase) GetItemByNormalizedTitle(ctx context.Context, normalizedTitle string) (Item, error) {
	var item Item
	err := d.gormDB.WithContext(ctx).Table(d.ItemsTable()).
		Where("normalized_title = ?", normalizedTitle).
		Order("item_id").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Item{}, ErrItemNotExist
	}
	return item, errors.Trace(err)
}

func (d *SQLDatabase) GetPopularItems(ctx context.Context, n int) ([]Item, error) {
	tx := d.gormDB.WithContext(ctx).Table(d.ItemsTable()).
		Where("total_rating > 0").
		Order("total_rating DESC, item_id")
	if n > 0 {
		tx = tx.Limit(n)
	}
	items := make([]Item, 0)
	if err := tx.Find(&items).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return items, nil
}

// BatchInsertRatings inserts ratings. Existing ratings are replaced if overwrite is set, kept otherwise.
func (d *SQLDatabase) BatchInsertRatings(ctx context.Context, ratings []Rating, overwrite bool) error {
	ratings, err := dedupRatings(ratings)
	if err != nil {
		return errors.Trace(err)
	}
	if len(ratings) == 0 {
		return nil
	}
	onConflict := clause.OnConflict{DoNothing: true}
	if overwrite {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"rating", "time_stamp"}),
		}
	}
	err = d.gormDB.WithContext(ctx).Table(d.RatingsTable()).
		Clauses(onConflict).
		Create(&ratings).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) DeleteRating(ctx context.Context, userId, itemId string) (int, error) {
	tx := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).
		Where("user_id = ? AND item_id = ?", userId, itemId).
		Delete(&Rating{})
	if tx.Error != nil {
		return 0, errors.Trace(tx.Error)
	}
	return int(tx.RowsAffected), nil
}

func (d *SQLDatabase) ClearRatings(ctx context.Context) error {
	err := d.gormDB.WithContext(ctx).Exec("DELETE FROM " + d.RatingsTable()).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) GetRatings(ctx context.Context) ([]RatingRecord, error) {
	rows, err := d.gormDB.WithContext(ctx).Table(d.RatingsTable() + " AS r").
		Select("r.user_id, r.item_id, r.rating, r.time_stamp, COALESCE(i.normalized_title, '')").
		Joins("LEFT JOIN " + d.ItemsTable() + " AS i ON i.item_id = r.item_id").
		Order("r.time_stamp, r.user_id, r.item_id").
		Rows()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	records := make([]RatingRecord, 0)
	for rows.Next() {
		var record RatingRecord
		if err = rows.Scan(&record.UserId, &record.ItemId, &record.Value, &record.Timestamp, &record.NormalizedTitle); err != nil {
			return nil, errors.Trace(err)
		}
		if record.NormalizedTitle == "" {
			record.NormalizedTitle = NormalizeTitle(record.ItemId)
		}
		records = append(records, record)
	}
	return records, errors.Trace(rows.Err())
}

func (d *SQLDatabase) GetUserRatings(ctx context.Context, userId string) ([]Rating, error) {
	ratings := make([]Rating, 0)
	err := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).
		Where("user_id = ?", userId).
		Order("time_stamp, item_id").
		Find(&ratings).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ratings, nil
}

func (d *SQLDatabase) CountUserRatings(ctx context.Context, userId string) (int, error) {
	var count int64
	err := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).
		Where("user_id = ?", userId).
		Count(&count).Error
	return int(count), errors.Trace(err)
}

// dedupItems normalizes titles and keeps the last item for each id.
func dedupItems(items []Item) []Item {
	index := make(map[string]int, len(items))
	result := make([]Item, 0, len(items))
	for _, item := range items {
		if item.NormalizedTitle == "" {
			item.NormalizedTitle = NormalizeTitle(item.Title)
		}
		if i, exist := index[item.ItemId]; exist {
			result[i] = item
		} else {
			index[item.ItemId] = len(result)
			result = append(result, item)
		}
	}
	return result
}

// dedupRatings validates ratings and keeps the last rating for each key.
func dedupRatings(ratings []Rating) ([]Rating, error) {
	index := make(map[RatingKey]int, len(ratings))
	result := make([]Rating, 0, len(ratings))
	for _, rating := range ratings {
		if err := ValidateRating(rating); err != nil {
			return nil, err
		}
		if i, exist := index[rating.RatingKey]; exist {
			result[i] = rating
		} else {
			index[rating.RatingKey] = len(result)
			result = append(result, rating)
		}
	}
	return result, nil
}
