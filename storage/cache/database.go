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
	"strings"
	"time"

	"github.com/gorse-io/anirec/base/log"
	"github.com/gorse-io/anirec/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrObjectNotExist = errors.NotFoundf("object")

// Key creates key for cache. Empty field will be ignored.
func Key(keys ...string) string {
	if len(keys) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.WriteString(keys[0])
	for _, key := range keys[1:] {
		if key != "" {
			builder.WriteRune('/')
			builder.WriteString(key)
		}
	}
	return builder.String()
}

// Database is a key-value store with expiration. Every value belongs to a group
// and a group can be removed at once.
type Database interface {
	Init() error
	Ping() error
	Close() error
	Purge() error
	// Get returns ErrObjectNotExist if the value is missing or expired.
	Get(ctx context.Context, name string) ([]byte, error)
	Set(ctx context.Context, group, name string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, name string) error
	DeleteGroup(ctx context.Context, group string) error
}

// Open a connection to a database. Pool options also bound the Redis connection pool.
func Open(path, tablePrefix string, opts ...storage.Option) (Database, error) {
	var err error
	if strings.HasPrefix(path, storage.RedisPrefix) || strings.HasPrefix(path, storage.RedissPrefix) {
		opt, err := redis.ParseURL(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		poolOpt := storage.NewOptions(opts...)
		if poolOpt.MaxOpenConns > 0 {
			opt.PoolSize = poolOpt.MaxOpenConns
		}
		if poolOpt.ConnMaxLifetime > 0 {
			opt.ConnMaxLifetime = poolOpt.ConnMaxLifetime
		}
		database := new(Redis)
		database.client = redis.NewClient(opt)
		if err = redisotel.InstrumentTracing(database.client); err != nil {
			return nil, errors.Trace(err)
		}
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		return database, nil
	} else if storage.IsSQL(path) {
		database := new(SQLDatabase)
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.gormDB, database.driver, err = storage.OpenSQL(path, tablePrefix, opts...); err != nil {
			return nil, errors.Trace(err)
		}
		log.Logger().Debug("open cache store", zap.String("driver", database.driver.String()),
			zap.String("path", log.RedactDBURL(path)))
		return database, nil
	} else if strings.HasPrefix(path, storage.MemoryPrefix) {
		return NewMemory(), nil
	}
	return nil, errors.Errorf("unknown database: %s", log.RedactDBURL(path))
}
