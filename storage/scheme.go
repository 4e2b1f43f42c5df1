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

package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/go-sql-driver/mysql"
	"github.com/gorse-io/anirec/base/log"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	_ "modernc.org/sqlite"
)

const (
	MySQLPrefix      = "mysql://"
	MongoPrefix      = "mongodb://"
	MongoSrvPrefix   = "mongodb+srv://"
	PostgresPrefix   = "postgres://"
	PostgreSQLPrefix = "postgresql://"
	SQLitePrefix     = "sqlite://"
	RedisPrefix      = "redis://"
	RedissPrefix     = "rediss://"
	MemoryPrefix     = "memory://"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

func (d SQLDriver) String() string {
	switch d {
	case MySQL:
		return "mysql"
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// IsSQL returns true if the path points to a database served by OpenSQL.
func IsSQL(path string) bool {
	return strings.HasPrefix(path, MySQLPrefix) ||
		strings.HasPrefix(path, PostgresPrefix) ||
		strings.HasPrefix(path, PostgreSQLPrefix) ||
		strings.HasPrefix(path, SQLitePrefix)
}

func AppendURLParams(rawURL string, params []lo.Tuple2[string, string]) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Trace(err)
	}
	q := parsed.Query()
	for _, tuple := range params {
		q.Add(tuple.A, tuple.B)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

func AppendMySQLParams(dsn string, params map[string]string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Trace(err)
	}
	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	for key, value := range params {
		if _, exist := cfg.Params[key]; !exist {
			cfg.Params[key] = value
		}
	}
	return cfg.FormatDSN(), nil
}

type TablePrefix string

func (tp TablePrefix) ItemsTable() string {
	return string(tp) + "items"
}

func (tp TablePrefix) RatingsTable() string {
	return string(tp) + "ratings"
}

func (tp TablePrefix) CacheTable() string {
	return string(tp) + "cache"
}

func (tp TablePrefix) Key(key string) string {
	return string(tp) + key
}

// gormWriter forwards GORM messages to the zap logger.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...any) {
	log.Logger().Sugar().Warnf(format, args...)
}

func NewGORMConfig(tablePrefix string) *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(gormWriter{}, logger.Config{
			SlowThreshold:             10 * time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		CreateBatchSize:        1000,
		SkipDefaultTransaction: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   tablePrefix,
			SingularTable: true,
		},
	}
}

// OpenSQL opens a SQL database through GORM. The path must be accepted by IsSQL.
func OpenSQL(path, tablePrefix string, opts ...Option) (*gorm.DB, SQLDriver, error) {
	var err error
	opt := NewOptions(opts...)
	if strings.HasPrefix(path, MySQLPrefix) {
		name := path[len(MySQLPrefix):]
		if name, err = AppendMySQLParams(name, map[string]string{
			"sql_mode":              "'ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'",
			"transaction_isolation": fmt.Sprintf("'%s'", opt.IsolationLevel),
			"parseTime":             "true",
		}); err != nil {
			return nil, MySQL, errors.Trace(err)
		}
		client, err := otelsql.Open("mysql", name, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
		if err != nil {
			return nil, MySQL, errors.Trace(err)
		}
		ApplySQLPool(client, opt)
		db, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: client}), NewGORMConfig(tablePrefix))
		return db, MySQL, errors.Trace(err)
	} else if strings.HasPrefix(path, PostgresPrefix) || strings.HasPrefix(path, PostgreSQLPrefix) {
		client, err := otelsql.Open("postgres", path, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
		if err != nil {
			return nil, Postgres, errors.Trace(err)
		}
		ApplySQLPool(client, opt)
		db, err := gorm.Open(postgres.New(postgres.Config{Conn: client}), NewGORMConfig(tablePrefix))
		return db, Postgres, errors.Trace(err)
	} else if strings.HasPrefix(path, SQLitePrefix) {
		if path, err = AppendURLParams(path, []lo.Tuple2[string, string]{
			{"_pragma", "busy_timeout(10000)"},
			{"_pragma", "journal_mode(wal)"},
		}); err != nil {
			return nil, SQLite, errors.Trace(err)
		}
		name := path[len(SQLitePrefix):]
		var client *sql.DB
		if client, err = otelsql.Open("sqlite", name, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true})); err != nil {
			return nil, SQLite, errors.Trace(err)
		}
		ApplySQLPool(client, opt)
		db, err := gorm.Open(sqlite.Dialector{Conn: client}, NewGORMConfig(tablePrefix))
		return db, SQLite, errors.Trace(err)
	}
	return nil, 0, errors.NotSupportedf("database %s", log.RedactDBURL(path))
}
