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

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/anirec/base/log"
	"github.com/gorse-io/anirec/cmd/version"
	"github.com/gorse-io/anirec/config"
	"github.com/gorse-io/anirec/recommend"
	"github.com/gorse-io/anirec/storage"
	"github.com/gorse-io/anirec/storage/cache"
	"github.com/gorse-io/anirec/storage/data"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "anirec",
	Short: "Anime recommender based on truncated SVD of user ratings.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Root().PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.Root().PersistentFlags(), debug)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion, _ := cmd.PersistentFlags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().BoolP("version", "v", false, "anirec version")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
}

func main() {
	defer func() { _ = log.Logger().Sync() }()
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}

// stores holds the connections shared by commands.
type stores struct {
	config *config.Config
	data   data.Database
	cache  cache.Database
}

func loadConfig(cmd *cobra.Command) *config.Config {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.String("config", configPath), zap.Error(err))
	}
	return conf
}

// openStores connects to the data store and the cache store of the configuration.
func openStores(cmd *cobra.Command) *stores {
	conf := loadConfig(cmd)
	opts := []storage.Option{
		storage.WithIsolationLevel(conf.Database.MySQL.IsolationLevel),
		storage.WithMaxOpenConns(conf.Database.MySQL.MaxOpenConns),
		storage.WithMaxIdleConns(conf.Database.MySQL.MaxIdleConns),
		storage.WithConnMaxLifetime(conf.Database.MySQL.ConnMaxLifetime),
	}
	dataStore, err := data.Open(conf.Database.DataStore, conf.Database.TablePrefix, opts...)
	if err != nil {
		log.Logger().Fatal("failed to connect data store",
			zap.String("data_store", log.RedactDBURL(conf.Database.DataStore)), zap.Error(err))
	}
	cacheStore, err := cache.Open(conf.Database.CacheStore, conf.Database.TablePrefix, opts...)
	if err != nil {
		log.Logger().Fatal("failed to connect cache store",
			zap.String("cache_store", log.RedactDBURL(conf.Database.CacheStore)), zap.Error(err))
	}
	return &stores{config: conf, data: dataStore, cache: cacheStore}
}

func (s *stores) engine() *recommend.Engine {
	engine, err := recommend.NewEngine(s.config.Recommend, s.data, s.cache)
	if err != nil {
		log.Logger().Fatal("failed to create recommender", zap.Error(err))
	}
	return engine
}

func (s *stores) Close() {
	if err := s.data.Close(); err != nil {
		log.Logger().Error("failed to close data store", zap.Error(err))
	}
	if err := s.cache.Close(); err != nil {
		log.Logger().Error("failed to close cache store", zap.Error(err))
	}
}

// invalidate drops the cached recommendations of users.
func invalidate(ctx context.Context, engine *recommend.Engine, users []string) error {
	for _, userId := range users {
		if err := engine.InvalidateCache(ctx, userId); err != nil {
			return errors.Annotatef(err, "invalidate user %s", userId)
		}
	}
	return nil
}

type pinger interface {
	Ping() error
}

// waitFor pings a store until it answers or the timeout elapses.
func waitFor(ctx context.Context, name string, store pinger, timeout time.Duration) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, store.Ping()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Logger().Warn("store is not ready", zap.String("store", name),
				zap.Duration("retry_after", next), zap.Error(err))
		}))
	return errors.Trace(err)
}
