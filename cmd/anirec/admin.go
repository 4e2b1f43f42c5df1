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
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/anirec/base/log"
	"github.com/gorse-io/anirec/dataset"
	"github.com/gorse-io/anirec/storage/data"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var generateCommand = &cobra.Command{
	Use:   "generate",
	Short: "Fill the stores with dummy anime and ratings",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		numUsers, _ := cmd.Flags().GetInt("users")
		numItems, _ := cmd.Flags().GetInt("items")
		perUser, _ := cmd.Flags().GetInt("ratings")
		seed, _ := cmd.Flags().GetInt64("seed")
		if !cmd.Flags().Changed("seed") {
			seed = time.Now().UnixNano()
		}

		generator := dataset.NewGenerator(seed, time.Now())
		items := generator.Items(numItems)
		users := generator.Users(numUsers)
		ratings := generator.Ratings(users, items, perUser)
		aggregates := dataset.AggregateRatings(ratings)
		for i := range items {
			items[i].AggregateRating = aggregates[items[i].ItemId]
		}

		s := openStores(cmd)
		defer s.Close()
		if err := insertBatches(items, "Generating anime", func(batch []data.Item) error {
			return s.data.BatchInsertItems(ctx, batch)
		}); err != nil {
			log.Logger().Fatal("failed to insert anime", zap.Error(err))
		}
		if err := insertBatches(ratings, "Generating ratings", func(batch []data.Rating) error {
			return s.data.BatchInsertRatings(ctx, batch, true)
		}); err != nil {
			log.Logger().Fatal("failed to insert ratings", zap.Error(err))
		}
		if err := invalidate(ctx, s.engine(), dataset.AffectedUsers(ratings).ToSlice()); err != nil {
			log.Logger().Fatal("failed to invalidate cache", zap.Error(err))
		}
		log.Logger().Info("generate dummy data", zap.Int64("seed", seed),
			zap.Int("n_users", len(users)), zap.Int("n_items", len(items)), zap.Int("n_ratings", len(ratings)))
	},
}

var initCommand = &cobra.Command{
	Use:   "init",
	Short: "Wait for the stores and create tables",
	Run: func(cmd *cobra.Command, args []string) {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		s := openStores(cmd)
		defer s.Close()
		if err := waitFor(cmd.Context(), "data_store", s.data, timeout); err != nil {
			log.Logger().Fatal("data store is unreachable", zap.Error(err))
		}
		if err := waitFor(cmd.Context(), "cache_store", s.cache, timeout); err != nil {
			log.Logger().Fatal("cache store is unreachable", zap.Error(err))
		}
		if err := s.data.Init(); err != nil {
			log.Logger().Fatal("failed to init data store", zap.Error(err))
		}
		if err := s.cache.Init(); err != nil {
			log.Logger().Fatal("failed to init cache store", zap.Error(err))
		}
		log.Logger().Info("init stores",
			zap.String("data_store", log.RedactDBURL(s.config.Database.DataStore)),
			zap.String("cache_store", log.RedactDBURL(s.config.Database.CacheStore)))
	},
}

var configCommand = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		var values map[string]any
		if err := mapstructure.Decode(conf, &values); err != nil {
			log.Logger().Fatal("failed to decode config", zap.Error(err))
		}
		rows := flatten("", values)
		sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Key", "Value")
		for _, row := range rows {
			if row[0] == "database.data_store" || row[0] == "database.cache_store" {
				row[1] = log.RedactDBURL(row[1])
			}
			if err := table.Append(row); err != nil {
				log.Logger().Fatal("failed to render table", zap.Error(err))
			}
		}
		if err := table.Render(); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
	},
}

// flatten turns nested sections into dotted keys.
func flatten(prefix string, values map[string]any) [][]string {
	var rows [][]string
	for key, value := range values {
		if prefix != "" {
			key = prefix + "." + key
		}
		if section, ok := value.(map[string]any); ok {
			rows = append(rows, flatten(key, section)...)
		} else {
			rows = append(rows, []string{key, fmt.Sprint(value)})
		}
	}
	return rows
}

func init() {
	rootCommand.AddCommand(generateCommand)
	rootCommand.AddCommand(initCommand)
	rootCommand.AddCommand(configCommand)
	generateCommand.Flags().Int("users", 100, "number of users")
	generateCommand.Flags().Int("items", 200, "number of anime")
	generateCommand.Flags().Int("ratings", 20, "number of ratings per user")
	generateCommand.Flags().Int64("seed", 0, "random seed (default current time)")
	initCommand.Flags().Duration("timeout", time.Minute, "maximum time waiting for stores")
}
