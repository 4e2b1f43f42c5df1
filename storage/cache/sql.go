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

package cache

import (
	"context"
	"time"

	"github.com/gorse-io/anirec/storage"
	"github.com/juju/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SQLValue struct {
	Name     string    `gorm:"column:name;type:varchar(256);primaryKey"`
	Group    string    `gorm:"column:group_name;type:varchar(256);index"`
	Value    []byte    `gorm:"column:value"`
	ExpireAt time.Time `gorm:"column:expire_at;index"`
}

// SQLDatabase keeps cached values in a single table of MySQL, PostgreSQL or SQLite.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	driver storage.SQLDriver
}

// Init creates the table and removes expired rows.
func (db *SQLDatabase) Init() error {
	if err := db.gormDB.Table(db.CacheTable()).AutoMigrate(&SQLValue{}); err != nil {
		return errors.Trace(err)
	}
	err := db.gormDB.Table(db.CacheTable()).
		Where("expire_at <= ?", time.Now().UTC()).
		Delete(&SQLValue{}).Error
	return errors.Trace(err)
}

func (db *SQLDatabase) Ping() error {
	client, err := db.gormDB.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(client.Ping())
}

func (db *SQLDatabase) Close() error {
	client, err := db.gormDB.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(client.Close())
}

func (db *SQLDatabase) Purge() error {
	return errors.Trace(db.gormDB.Exec("DELETE FROM " + db.CacheTable()).Error)
}

func (db *SQLDatabase) Get(ctx context.Context, name string) ([]byte, error) {
	var value SQLValue
	err := db.gormDB.WithContext(ctx).Table(db.CacheTable()).
		Where("name = ? AND expire_at > ?", name, time.Now().UTC()).
		First(&value).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Annotate(ErrObjectNotExist, name)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return value.Value, nil
}

func (db *SQLDatabase) Set(ctx context.Context, group, name string, value []byte, ttl time.Duration) error {
	err := db.gormDB.WithContext(ctx).Table(db.CacheTable()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"group_name", "value", "expire_at"}),
		}).
		Create(&SQLValue{
			Name:     name,
			Group:    group,
			Value:    value,
			ExpireAt: time.Now().UTC().Add(ttl),
		}).Error
	return errors.Trace(err)
}

func (db *SQLDatabase) Delete(ctx context.Context, name string) error {
	err := db.gormDB.WithContext(ctx).Table(db.CacheTable()).
		Where("name = ?", name).
		Delete(&SQLValue{}).Error
	return errors.Trace(err)
}

func (db *SQLDatabase) DeleteGroup(ctx context.Context, group string) error {
	err := db.gormDB.WithContext(ctx).Table(db.CacheTable()).
		Where("group_name = ?", group).
		Delete(&SQLValue{}).Error
	return errors.Trace(err)
}
