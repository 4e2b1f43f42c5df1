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
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB is the data storage based on MongoDB.
type MongoDB struct {
	storage.TablePrefix
	client *mongo.Client
	dbName string
}

// Init collections and indices in MongoDB.
func (db *MongoDB) Init() error {
	ctx := context.Background()
	d := db.client.Database(db.dbName)
	// list collections
	var hasItems, hasRatings bool
	collections, err := d.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return errors.Trace(err)
	}
	for _, collectionName := range collections {
		switch collectionName {
		case db.ItemsTable():
			hasItems = true
		case db.RatingsTable():
			hasRatings = true
		}
	}
	// create collections
	if !hasItems {
		if err = d.CreateCollection(ctx, db.ItemsTable()); err != nil {
			return errors.Trace(err)
		}
	}
	if !hasRatings {
		if err = d.CreateCollection(ctx, db.RatingsTable()); err != nil {
			return errors.Trace(err)
		}
	}
	// create indices
	_, err = d.Collection(db.ItemsTable()).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{"normalized_title", 1}, {"_id", 1}}},
		{Keys: bson.D{{"total_rating", -1}, {"_id", 1}}},
	})
	if err != nil {
		return errors.Trace(err)
	}
	_, err = d.Collection(db.RatingsTable()).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{"user_id", 1}, {"item_id", 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{"time_stamp", 1}}},
	})
	return errors.Trace(err)
}

func (db *MongoDB) Ping() error {
	return errors.Trace(db.client.Ping(context.Background(), nil))
}

// Close connection to MongoDB.
func (db *MongoDB) Close() error {
	return errors.Trace(db.client.Disconnect(context.Background()))
}

func (db *MongoDB) Purge() error {
	ctx := context.Background()
	d := db.client.Database(db.dbName)
	for _, name := range []string{db.ItemsTable(), db.RatingsTable()} {
		if _, err := d.Collection(name).DeleteMany(ctx, bson.M{}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// BatchInsertItems inserts items into MongoDB.
func (db *MongoDB) BatchInsertItems(ctx context.Context, items []Item) error {
	items = dedupItems(items)
	if len(items) == 0 {
		return nil
	}
	c := db.client.Database(db.dbName).Collection(db.ItemsTable())
	var models []mongo.WriteModel
	for _, item := range items {
		models = append(models, mongo.NewReplaceOneModel().
			SetUpsert(true).
			SetFilter(bson.M{"_id": bson.M{"$eq": item.ItemId}}).
			SetReplacement(item))
	}
	_, err := c.BulkWrite(ctx, models)
	return errors.Trace(err)
}

// GetItem returns an item from MongoDB.
func (db *MongoDB) GetItem(ctx context.Context, itemId string) (item Item, err error) {
	c := db.client.Database(db.dbName).Collection(db.ItemsTable())
	r := c.FindOne(ctx, bson.M{"_id": itemId})
	if errors.Is(r.Err(), mongo.ErrNoDocuments) {
		return Item{}, ErrItemNotExist
	}
	err = r.Decode(&item)
	return item, errors.Trace(err)
}

func (db *MongoDB) GetItemByNormalizedTitle(ctx context.Context, normalizedTitle string) (item Item, err error) {
	c := db.client.Database(db.dbName).Collection(db.ItemsTable())
	opt := options.FindOne().SetSort(bson.D{{"_id", 1}})
	r := c.FindOne(ctx, bson.M{"normalized_title": normalizedTitle}, opt)
	if errors.Is(r.Err(), mongo.ErrNoDocuments) {
		return Item{}, ErrItemNotExist
	}
	err = r.Decode(&item)
	return item, errors.Trace(err)
}

func (db *MongoDB) GetPopularItems(ctx context.Context, n int) ([]Item, error) {
	c := db.client.Database(db.dbName).Collection(db.ItemsTable())
	opt := options.Find().SetSort(bson.D{{"total_rating", -1}, {"_id", 1}})
	if n > 0 {
		opt.SetLimit(int64(n))
	}
	r, err := c.Find(ctx, bson.M{"total_rating": bson.M{"$gt": 0}}, opt)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer r.Close(ctx)
	items := make([]Item, 0)
	for r.Next(ctx) {
		var item Item
		if err = r.Decode(&item); err != nil {
			return nil, errors.Trace(err)
		}
		items = append(items, item)
	}
	return items, errors.Trace(r.Err())
}

func (db *MongoDB) BatchInsertRatings(ctx context.Context, ratings []Rating, overwrite bool) error {
	ratings, err := dedupRatings(ratings)
	if err != nil {
		return errors.Trace(err)
	}
	if len(ratings) == 0 {
		return nil
	}
	c := db.client.Database(db.dbName).Collection(db.RatingsTable())
	var models []mongo.WriteModel
	for _, rating := range ratings {
		op := "$setOnInsert"
		if overwrite {
			op = "$set"
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetUpsert(true).
			SetFilter(bson.M{"user_id": rating.UserId, "item_id": rating.ItemId}).
			SetUpdate(bson.M{op: rating}))
	}
	_, err = c.BulkWrite(ctx, models)
	return errors.Trace(err)
}

func (db *MongoDB) DeleteRating(ctx context.Context, userId, itemId string) (int, error) {
	c := db.client.Database(db.dbName).Collection(db.RatingsTable())
	r, err := c.DeleteMany(ctx, bson.M{"user_id": userId, "item_id": itemId})
	if err != nil {
		return 0, errors.Trace(err)
	}
	return int(r.DeletedCount), nil
}

func (db *MongoDB) ClearRatings(ctx context.Context) error {
	c := db.client.Database(db.dbName).Collection(db.RatingsTable())
	_, err := c.DeleteMany(ctx, bson.M{})
	return errors.Trace(err)
}

func (db *MongoDB) GetRatings(ctx context.Context) ([]RatingRecord, error) {
	d := db.client.Database(db.dbName)
	// load titles
	titles := make(map[string]string)
	r, err := d.Collection(db.ItemsTable()).Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"normalized_title": 1}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	for r.Next(ctx) {
		var item Item
		if err = r.Decode(&item); err != nil {
			_ = r.Close(ctx)
			return nil, errors.Trace(err)
		}
		titles[item.ItemId] = item.NormalizedTitle
	}
	if err = r.Close(ctx); err != nil {
		return nil, errors.Trace(err)
	}
	// load ratings
	r, err = d.Collection(db.RatingsTable()).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{"time_stamp", 1}, {"user_id", 1}, {"item_id", 1}}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer r.Close(ctx)
	records := make([]RatingRecord, 0)
	for r.Next(ctx) {
		var record RatingRecord
		if err = r.Decode(&record.Rating); err != nil {
			return nil, errors.Trace(err)
		}
		record.NormalizedTitle = titles[record.ItemId]
		if record.NormalizedTitle == "" {
			record.NormalizedTitle = NormalizeTitle(record.ItemId)
		}
		records = append(records, record)
	}
	return records, errors.Trace(r.Err())
}

func (db *MongoDB) GetUserRatings(ctx context.Context, userId string) ([]Rating, error) {
	c := db.client.Database(db.dbName).Collection(db.RatingsTable())
	r, err := c.Find(ctx, bson.M{"user_id": userId},
		options.Find().SetSort(bson.D{{"time_stamp", 1}, {"item_id", 1}}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer r.Close(ctx)
	ratings := make([]Rating, 0)
	for r.Next(ctx) {
		var rating Rating
		if err = r.Decode(&rating); err != nil {
			return nil, errors.Trace(err)
		}
		ratings = append(ratings, rating)
	}
	return ratings, errors.Trace(r.Err())
}

func (db *MongoDB) CountUserRatings(ctx context.Context, userId string) (int, error) {
	c := db.client.Database(db.dbName).Collection(db.RatingsTable())
	n, err := c.CountDocuments(ctx, bson.M{"user_id": userId})
	return int(n), errors.Trace(err)
}
