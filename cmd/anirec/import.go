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
	"os"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/anirec/base/log"
	"github.com/gorse-io/anirec/dataset"
	"github.com/gorse-io/anirec/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const batchSize = 1000

var importCommand = &cobra.Command{
	Use:   "import",
	Short: "Import anime or ratings from CSV files",
}

var importItemsCommand = &cobra.Command{
	Use:   "items <file>",
	Short: "Import the anime catalog",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		file, err := os.Open(args[0])
		if err != nil {
			log.Logger().Fatal("failed to open file", zap.Error(err))
		}
		defer file.Close()
		items, report, err := dataset.ReadItems(file)
		if err != nil {
			log.Logger().Fatal("failed to read anime", zap.String("file", args[0]), zap.Error(err))
		}
		printReport("anime", report)
		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			return
		}
		s := openStores(cmd)
		defer s.Close()
		if err = insertBatches(items, "Importing anime", func(batch []data.Item) error {
			return s.data.BatchInsertItems(cmd.Context(), batch)
		}); err != nil {
			log.Logger().Fatal("failed to insert anime", zap.Error(err))
		}
	},
}

var importRatingsCommand = &cobra.Command{
	Use:   "ratings <file>",
	Short: "Import user ratings",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		wide, _ := cmd.Flags().GetBool("wide")
		clearRatings, _ := cmd.Flags().GetBool("clear")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		updateAggregate, _ := cmd.Flags().GetBool("update-aggregate")

		file, err := os.Open(args[0])
		if err != nil {
			log.Logger().Fatal("failed to open file", zap.Error(err))
		}
		defer file.Close()
		s := openStores(cmd)
		defer s.Close()

		var (
			ratings  []data.Rating
			report   dataset.Report
			newItems []data.Item
		)
		if wide {
			resolver := &titleResolver{ctx: ctx, store: s.data}
			ratings, report, err = dataset.ReadWideRatings(file, resolver.Resolve, time.Now())
			newItems = resolver.created
		} else {
			ratings, report, err = dataset.ReadRatings(file, time.Now())
		}
		if err != nil {
			log.Logger().Fatal("failed to read ratings", zap.String("file", args[0]), zap.Error(err))
		}
		printReport("ratings", report)
		if len(newItems) > 0 {
			fmt.Printf("%d titles are not in the catalog and will be created.\n", len(newItems))
		}
		if dryRun {
			return
		}

		affected := dataset.AffectedUsers(ratings)
		if clearRatings {
			previous, err := s.data.GetRatings(ctx)
			if err != nil {
				log.Logger().Fatal("failed to load ratings", zap.Error(err))
			}
			affected = affected.Union(dataset.AffectedUsers(lo.Map(previous, func(r data.RatingRecord, _ int) data.Rating {
				return r.Rating
			})))
			if err = s.data.ClearRatings(ctx); err != nil {
				log.Logger().Fatal("failed to clear ratings", zap.Error(err))
			}
			log.Logger().Info("clear ratings", zap.Int("n_ratings", len(previous)))
		}
		if len(newItems) > 0 {
			if err = s.data.BatchInsertItems(ctx, newItems); err != nil {
				log.Logger().Fatal("failed to create anime", zap.Error(err))
			}
		}
		if err = insertBatches(ratings, "Importing ratings", func(batch []data.Rating) error {
			return s.data.BatchInsertRatings(ctx, batch, true)
		}); err != nil {
			log.Logger().Fatal("failed to insert ratings", zap.Error(err))
		}
		if updateAggregate {
			if err = updateAggregateRatings(ctx, s.data, dataset.AffectedItems(ratings)); err != nil {
				log.Logger().Fatal("failed to update aggregate ratings", zap.Error(err))
			}
		}
		if err = invalidate(ctx, s.engine(), affected.ToSlice()); err != nil {
			log.Logger().Fatal("failed to invalidate cache", zap.Error(err))
		}
		log.Logger().Info("import ratings", zap.Int("n_ratings", len(ratings)), zap.Int("n_users", affected.Cardinality()))
	},
}

// titleResolver matches column titles of wide sheets to the catalog. Unknown titles become
// bare anime keyed by their normalized title.
type titleResolver struct {
	ctx     context.Context
	store   data.Database
	created []data.Item
}

func (r *titleResolver) Resolve(title string) (string, error) {
	normalized := data.NormalizeTitle(title)
	if normalized == "" {
		return "", errors.NotValidf("empty title")
	}
	item, err := r.store.GetItemByNormalizedTitle(r.ctx, normalized)
	if errors.Is(err, errors.NotFound) {
		if created, ok := lo.Find(r.created, func(item data.Item) bool { return item.ItemId == normalized }); ok {
			return created.ItemId, nil
		}
		r.created = append(r.created, data.Item{ItemId: normalized, Title: title, NormalizedTitle: normalized})
		return normalized, nil
	} else if err != nil {
		return "", errors.Trace(err)
	}
	return item.ItemId, nil
}

// updateAggregateRatings sets the aggregate rating of items to the average of their ratings.
func updateAggregateRatings(ctx context.Context, store data.Database, itemIds mapset.Set[string]) error {
	records, err := store.GetRatings(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	ratings := lo.FilterMap(records, func(r data.RatingRecord, _ int) (data.Rating, bool) {
		return r.Rating, itemIds.Contains(r.ItemId)
	})
	aggregates := dataset.AggregateRatings(ratings)
	items := make([]data.Item, 0, len(aggregates))
	for itemId, aggregate := range aggregates {
		item, err := store.GetItem(ctx, itemId)
		if errors.Is(err, errors.NotFound) {
			continue
		} else if err != nil {
			return errors.Trace(err)
		}
		item.AggregateRating = aggregate
		items = append(items, item)
	}
	return errors.Trace(store.BatchInsertItems(ctx, items))
}

func insertBatches[T any](values []T, description string, insert func([]T) error) error {
	bar := progressbar.Default(int64(len(values)), description)
	for _, batch := range lo.Chunk(values, batchSize) {
		if err := insert(batch); err != nil {
			return errors.Trace(err)
		}
		_ = bar.Add(len(batch))
	}
	return errors.Trace(bar.Finish())
}

func printReport(kind string, report dataset.Report) {
	fmt.Printf("Read %d %s, skipped %d.\n", report.Accepted, kind, report.Skipped)
}

func init() {
	rootCommand.AddCommand(importCommand)
	importCommand.AddCommand(importItemsCommand)
	importCommand.AddCommand(importRatingsCommand)
	importItemsCommand.Flags().Bool("dry-run", false, "parse the file without writing")
	importRatingsCommand.Flags().Bool("wide", false, "first column holds users and other columns are anime titles")
	importRatingsCommand.Flags().Bool("clear", false, "delete all ratings before importing")
	importRatingsCommand.Flags().Bool("dry-run", false, "parse the file without writing")
	importRatingsCommand.Flags().Bool("update-aggregate", false, "recompute aggregate ratings of rated anime")
}
