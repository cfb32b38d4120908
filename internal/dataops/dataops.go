// Package dataops executes generic document operations against the data
// cluster. Callers name a database and collection; authorization happens
// before a request ever reaches this package.
package dataops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	ErrNotFound  = errors.New("dataops: document not found")
	ErrDuplicate = errors.New("dataops: duplicate key")
	ErrStorage   = errors.New("dataops: storage failure")
)

const storeTimeout = 5 * time.Second

// Store runs document operations on the data cluster.
type Store struct {
	client  *mongo.Client
	timeout time.Duration
}

// NewStore wraps the data-cluster client.
func NewStore(client *mongo.Client) *Store {
	return &Store{client: client, timeout: storeTimeout}
}

func (s *Store) coll(db, coll string) *mongo.Collection {
	return s.client.Database(db).Collection(coll)
}

func (s *Store) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Query carries the optional shaping parameters of a read.
type Query struct {
	Filter     map[string]any
	Projection map[string]any
	Sort       []SortField
	Limit      int64
	Offset     int64
	BatchSize  int32
}

// SortField is one sort key; Desc sorts descending.
type SortField struct {
	Key  string
	Desc bool
}

func (q Query) filter() bson.M {
	if q.Filter == nil {
		return bson.M{}
	}
	return bson.M(q.Filter)
}

func (q Query) sortDoc() bson.D {
	doc := make(bson.D, 0, len(q.Sort))
	for _, f := range q.Sort {
		order := 1
		if f.Desc {
			order = -1
		}
		doc = append(doc, bson.E{Key: f.Key, Value: order})
	}
	return doc
}

// FetchOne returns the first document matching the filter.
func (s *Store) FetchOne(ctx context.Context, db, coll string, q Query) (map[string]any, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	opts := options.FindOne()
	if q.Projection != nil {
		opts.SetProjection(bson.M(q.Projection))
	}
	if len(q.Sort) > 0 {
		opts.SetSort(q.sortDoc())
	}

	var doc map[string]any
	if err := s.coll(db, coll).FindOne(ctx, q.filter(), opts).Decode(&doc); err != nil {
		return nil, findOneErr(err)
	}
	normalizeID(doc)
	return doc, nil
}

// Fetch returns every document matching the filter, shaped by the query.
// No match is an empty slice, not an error.
func (s *Store) Fetch(ctx context.Context, db, coll string, q Query) ([]map[string]any, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	opts := options.Find()
	if q.Projection != nil {
		opts.SetProjection(bson.M(q.Projection))
	}
	if len(q.Sort) > 0 {
		opts.SetSort(q.sortDoc())
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	if q.Offset > 0 {
		opts.SetSkip(q.Offset)
	}
	if q.BatchSize > 0 {
		opts.SetBatchSize(q.BatchSize)
	}

	cur, err := s.coll(db, coll).Find(ctx, q.filter(), opts)
	if err != nil {
		return nil, storageErr("find", err)
	}
	defer cur.Close(ctx)

	docs := []map[string]any{}
	for cur.Next(ctx) {
		var doc map[string]any
		if err := cur.Decode(&doc); err != nil {
			return nil, storageErr("decode", err)
		}
		normalizeID(doc)
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, storageErr("cursor", err)
	}
	return docs, nil
}

// Count returns how many documents match the filter.
func (s *Store) Count(ctx context.Context, db, coll string, filter map[string]any) (int64, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	f := bson.M{}
	if filter != nil {
		f = bson.M(filter)
	}
	n, err := s.coll(db, coll).CountDocuments(ctx, f)
	if err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

// InsertOne stores a single document and returns its id as a hex string.
func (s *Store) InsertOne(ctx context.Context, db, coll string, doc map[string]any) (string, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	res, err := s.coll(db, coll).InsertOne(ctx, doc)
	if err != nil {
		return "", insertErr(err)
	}
	return idHex(res.InsertedID), nil
}

// InsertMany stores documents in order and returns their ids.
func (s *Store) InsertMany(ctx context.Context, db, coll string, docs []map[string]any) ([]string, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	payload := make([]any, len(docs))
	for i, d := range docs {
		payload[i] = d
	}
	res, err := s.coll(db, coll).InsertMany(ctx, payload)
	if err != nil {
		return nil, insertErr(err)
	}
	ids := make([]string, len(res.InsertedIDs))
	for i, id := range res.InsertedIDs {
		ids[i] = idHex(id)
	}
	return ids, nil
}

// UpdateResult reports how an update landed.
type UpdateResult struct {
	Matched  int64 `json:"matched"`
	Modified int64 `json:"modified"`
}

// UpdateOne applies the update document to the first match. Matching
// nothing fails with ErrNotFound.
func (s *Store) UpdateOne(ctx context.Context, db, coll string, filter, update map[string]any) (UpdateResult, error) {
	return s.update(ctx, db, coll, filter, update, false)
}

// UpdateMany applies the update document to every match.
func (s *Store) UpdateMany(ctx context.Context, db, coll string, filter, update map[string]any) (UpdateResult, error) {
	return s.update(ctx, db, coll, filter, update, true)
}

func (s *Store) update(ctx context.Context, db, coll string, filter, update map[string]any, many bool) (UpdateResult, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	f := bson.M{}
	if filter != nil {
		f = bson.M(filter)
	}
	var (
		res *mongo.UpdateResult
		err error
	)
	if many {
		res, err = s.coll(db, coll).UpdateMany(ctx, f, bson.M(update))
	} else {
		res, err = s.coll(db, coll).UpdateOne(ctx, f, bson.M(update))
	}
	return updateOutcome(res, err, many)
}

// DeleteOne removes the first document matching the filter. Deleting
// nothing fails with ErrNotFound.
func (s *Store) DeleteOne(ctx context.Context, db, coll string, filter map[string]any) (int64, error) {
	return s.delete(ctx, db, coll, filter, false)
}

// DeleteMany removes every document matching the filter; a zero count
// is not an error.
func (s *Store) DeleteMany(ctx context.Context, db, coll string, filter map[string]any) (int64, error) {
	return s.delete(ctx, db, coll, filter, true)
}

func (s *Store) delete(ctx context.Context, db, coll string, filter map[string]any, many bool) (int64, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	f := bson.M{}
	if filter != nil {
		f = bson.M(filter)
	}
	var (
		res *mongo.DeleteResult
		err error
	)
	if many {
		res, err = s.coll(db, coll).DeleteMany(ctx, f)
	} else {
		res, err = s.coll(db, coll).DeleteOne(ctx, f)
	}
	return deleteOutcome(res, err, many)
}

// normalizeID rewrites a BSON object id under _id into its hex string so
// responses serialize as plain JSON.
func normalizeID(doc map[string]any) {
	if doc == nil {
		return
	}
	if oid, ok := doc["_id"].(bson.ObjectID); ok {
		doc["_id"] = oid.Hex()
	}
}

func idHex(id any) string {
	if oid, ok := id.(bson.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprintf("%v", id)
}

func findOneErr(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return storageErr("find one", err)
}

func insertErr(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return storageErr("insert", err)
}

// updateOutcome translates a driver update result. The singular form
// targets one specific document; matching nothing is a miss. The bulk
// form reports zero matches as a count.
func updateOutcome(res *mongo.UpdateResult, err error, many bool) (UpdateResult, error) {
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return UpdateResult{}, ErrDuplicate
		}
		return UpdateResult{}, storageErr("update", err)
	}
	if !many && res.MatchedCount == 0 {
		return UpdateResult{}, ErrNotFound
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

// deleteOutcome translates a driver delete result, with the same
// singular-versus-bulk split as updateOutcome.
func deleteOutcome(res *mongo.DeleteResult, err error, many bool) (int64, error) {
	if err != nil {
		return 0, storageErr("delete", err)
	}
	if !many && res.DeletedCount == 0 {
		return 0, ErrNotFound
	}
	return res.DeletedCount, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
