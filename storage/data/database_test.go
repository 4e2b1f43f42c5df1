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
	"time"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type baseTestSuite struct {
	suite.Suite
	Database
}

func (suite *baseTestSuite) TearDownSuite() {
	err := suite.Database.Close()
	suite.NoError(err)
}

func (suite *baseTestSuite) SetupTest() {
	err := suite.Database.Ping()
	suite.NoError(err)
	err = suite.Database.Purge()
	suite.NoError(err)
}

func (suite *baseTestSuite) insertItems() {
	ctx := context.Background()
	err := suite.Database.BatchInsertItems(ctx, []Item{
		{ItemId: "1", Title: "Naruto", Genre: "Action, Adventure", AggregateRating: 8.2},
		{ItemId: "2", Title: "  One   Piece  ", Genre: "Action,Comedy", AggregateRating: 9.1},
		{ItemId: "3", Title: "Bleach", Genre: "Action", AggregateRating: 0},
		{ItemId: "4", Title: "Steins;Gate", Genre: "Sci-Fi", AggregateRating: 9.1},
		{ItemId: "5", Title: "One Piece", Genre: "Action", AggregateRating: 7.0},
	})
	suite.NoError(err)
}

func (suite *baseTestSuite) TestItems() {
	ctx := context.Background()
	suite.insertItems()
	// get item
	item, err := suite.Database.GetItem(ctx, "2")
	suite.NoError(err)
	suite.Equal("  One   Piece  ", item.Title)
	suite.Equal("one piece", item.NormalizedTitle)
	suite.Equal([]string{"Action", "Comedy"}, item.Genres())
	suite.Equal(9.1, item.AggregateRating)
	item, err = suite.Database.GetItem(ctx, "4")
	suite.NoError(err)
	suite.Equal("steinsgate", item.NormalizedTitle)
	// get missing item
	_, err = suite.Database.GetItem(ctx, "100")
	suite.True(errors.Is(err, errors.NotFound), err)
	// overwrite item
	err = suite.Database.BatchInsertItems(ctx, []Item{{ItemId: "3", Title: "Bleach", AggregateRating: 7.5}})
	suite.NoError(err)
	item, err = suite.Database.GetItem(ctx, "3")
	suite.NoError(err)
	suite.Equal(7.5, item.AggregateRating)
	// insert nothing
	err = suite.Database.BatchInsertItems(ctx, nil)
	suite.NoError(err)
}

func (suite *baseTestSuite) TestGetItemByNormalizedTitle() {
	ctx := context.Background()
	suite.insertItems()
	item, err := suite.Database.GetItemByNormalizedTitle(ctx, "one piece")
	suite.NoError(err)
	suite.Equal("2", item.ItemId)
	_, err = suite.Database.GetItemByNormalizedTitle(ctx, "dragon ball")
	suite.True(errors.Is(err, errors.NotFound), err)
}

func (suite *baseTestSuite) TestGetPopularItems() {
	ctx := context.Background()
	suite.insertItems()
	items, err := suite.Database.GetPopularItems(ctx, 0)
	suite.NoError(err)
	suite.Equal([]string{"2", "4", "1", "5"}, lo.Map(items, func(item Item, _ int) string {
		return item.ItemId
	}))
	items, err = suite.Database.GetPopularItems(ctx, 2)
	suite.NoError(err)
	suite.Equal([]string{"2", "4"}, lo.Map(items, func(item Item, _ int) string {
		return item.ItemId
	}))
}

func (suite *baseTestSuite) TestRatings() {
	ctx := context.Background()
	suite.insertItems()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err := suite.Database.BatchInsertRatings(ctx, []Rating{
		{RatingKey: RatingKey{UserId: "alice", ItemId: "1"}, Value: 8, Timestamp: base.Add(time.Hour)},
		{RatingKey: RatingKey{UserId: "alice", ItemId: "2"}, Value: 9, Timestamp: base},
		{RatingKey: RatingKey{UserId: "bob", ItemId: "2"}, Value: 5, Timestamp: base.Add(2 * time.Hour)},
		{RatingKey: RatingKey{UserId: "bob", ItemId: "404"}, Value: 6, Timestamp: base.Add(3 * time.Hour)},
	}, true)
	suite.NoError(err)
	// count ratings
	count, err := suite.Database.CountUserRatings(ctx, "alice")
	suite.NoError(err)
	suite.Equal(2, count)
	count, err = suite.Database.CountUserRatings(ctx, "carol")
	suite.NoError(err)
	suite.Zero(count)
	// get ratings joined with titles
	records, err := suite.Database.GetRatings(ctx)
	suite.NoError(err)
	if suite.Len(records, 4) {
		suite.Equal("alice", records[0].UserId)
		suite.Equal("one piece", records[0].NormalizedTitle)
		suite.Equal(9.0, records[0].Value)
		suite.Equal("naruto", records[1].NormalizedTitle)
		suite.Equal("one piece", records[2].NormalizedTitle)
		suite.Equal("404", records[3].NormalizedTitle)
	}
	// keep existing ratings
	err = suite.Database.BatchInsertRatings(ctx, []Rating{
		{RatingKey: RatingKey{UserId: "alice", ItemId: "1"}, Value: 2, Timestamp: base.Add(4 * time.Hour)},
	}, false)
	suite.NoError(err)
	ratings, err := suite.Database.GetUserRatings(ctx, "alice")
	suite.NoError(err)
	if suite.Len(ratings, 2) {
		suite.Equal("2", ratings[0].ItemId)
		suite.Equal(8.0, ratings[1].Value)
	}
	// overwrite existing ratings
	err = suite.Database.BatchInsertRatings(ctx, []Rating{
		{RatingKey: RatingKey{UserId: "alice", ItemId: "1"}, Value: 2, Timestamp: base.Add(4 * time.Hour)},
		{RatingKey: RatingKey{UserId: "alice", ItemId: "1"}, Value: 3, Timestamp: base.Add(5 * time.Hour)},
	}, true)
	suite.NoError(err)
	ratings, err = suite.Database.GetUserRatings(ctx, "alice")
	suite.NoError(err)
	if suite.Len(ratings, 2) {
		suite.Equal("1", ratings[1].ItemId)
		suite.Equal(3.0, ratings[1].Value)
	}
	// delete rating
	deleted, err := suite.Database.DeleteRating(ctx, "alice", "1")
	suite.NoError(err)
	suite.Equal(1, deleted)
	deleted, err = suite.Database.DeleteRating(ctx, "alice", "1")
	suite.NoError(err)
	suite.Zero(deleted)
	count, err = suite.Database.CountUserRatings(ctx, "alice")
	suite.NoError(err)
	suite.Equal(1, count)
	// clear ratings
	err = suite.Database.ClearRatings(ctx)
	suite.NoError(err)
	records, err = suite.Database.GetRatings(ctx)
	suite.NoError(err)
	suite.Empty(records)
	_, err = suite.Database.GetItem(ctx, "1")
	suite.NoError(err)
}

func (suite *baseTestSuite) TestInvalidRatings() {
	ctx := context.Background()
	for _, value := range []float64{0, 0.99, 10.01, -1} {
		err := suite.Database.BatchInsertRatings(ctx, []Rating{
			{RatingKey: RatingKey{UserId: "alice", ItemId: "1"}, Value: value, Timestamp: time.Now()},
		}, true)
		suite.True(errors.Is(err, errors.NotValid), value)
	}
	err := suite.Database.BatchInsertRatings(ctx, []Rating{
		{RatingKey: RatingKey{ItemId: "1"}, Value: 5, Timestamp: time.Now()},
	}, true)
	suite.True(errors.Is(err, errors.NotValid))
	for _, value := range []float64{1, 10} {
		err = suite.Database.BatchInsertRatings(ctx, []Rating{
			{RatingKey: RatingKey{UserId: "alice", ItemId: "1"}, Value: value, Timestamp: time.Now()},
		}, true)
		suite.NoError(err)
	}
}
