package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/phonehub/phonehub/pkg/otel"
)

// QueryBuilder provides a fluent interface for MongoDB queries
type QueryBuilder struct {
	name       string
	collection *mongo.Collection
	filter     bson.M
	sort       bson.D
	limit      *int64
	projection bson.M
}

// NewQuery creates a new query builder for a collection
func (c *Client) NewQuery(collectionName string) *QueryBuilder {
	return &QueryBuilder{
		name:       collectionName,
		collection: c.Collection(collectionName),
		filter:     bson.M{},
		projection: bson.M{},
	}
}

// Eq adds an equality filter
func (q *QueryBuilder) Eq(field string, value interface{}) *QueryBuilder {
	q.filter[field] = value
	return q
}

// Gte adds a greater than or equal filter
func (q *QueryBuilder) Gte(field string, value interface{}) *QueryBuilder {
	if existing, ok := q.filter[field].(bson.M); ok {
		existing["$gte"] = value
	} else {
		q.filter[field] = bson.M{"$gte": value}
	}
	return q
}

// Select restricts the returned fields. "*" or no fields returns everything.
func (q *QueryBuilder) Select(fields ...string) *QueryBuilder {
	projection := bson.M{}
	for _, field := range fields {
		if field == "*" {
			projection = bson.M{}
			break
		}
		projection[field] = 1
	}
	q.projection = projection
	return q
}

// Limit sets the limit
func (q *QueryBuilder) Limit(limit int64) *QueryBuilder {
	q.limit = &limit
	return q
}

// Sort sets the sort order
func (q *QueryBuilder) Sort(field string, ascending bool) *QueryBuilder {
	direction := 1
	if !ascending {
		direction = -1
	}
	q.sort = append(q.sort, bson.E{Key: field, Value: direction})
	return q
}

// Find decodes every matching document into results, which must be a
// pointer to a slice.
func (q *QueryBuilder) Find(ctx context.Context, results interface{}) error {
	opts := options.Find()
	if q.limit != nil {
		opts.SetLimit(*q.limit)
	}
	if len(q.sort) > 0 {
		opts.SetSort(q.sort)
	}
	if len(q.projection) > 0 {
		opts.SetProjection(q.projection)
	}

	return otel.ExecuteSelect(ctx, q.name, func(ctx context.Context) error {
		cursor, err := q.collection.Find(ctx, q.filter, opts)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)
		return cursor.All(ctx, results)
	})
}

// FindOne decodes the first matching document into result. It reports
// false when nothing matched.
func (q *QueryBuilder) FindOne(ctx context.Context, result interface{}) (bool, error) {
	opts := options.FindOne()
	if len(q.projection) > 0 {
		opts.SetProjection(q.projection)
	}
	if len(q.sort) > 0 {
		opts.SetSort(q.sort)
	}

	found := true
	err := otel.ExecuteSelect(ctx, q.name, func(ctx context.Context) error {
		err := q.collection.FindOne(ctx, q.filter, opts).Decode(result)
		if err == mongo.ErrNoDocuments {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Upsert sets fields on the document matching the filter, creating it if
// needed. onInsert is only written when the document is created.
func (q *QueryBuilder) Upsert(ctx context.Context, set interface{}, onInsert interface{}) error {
	update := bson.M{"$set": set}
	if onInsert != nil {
		update["$setOnInsert"] = onInsert
	}
	return otel.ExecuteUpdate(ctx, q.name, func(ctx context.Context) error {
		_, err := q.collection.UpdateOne(ctx, q.filter, update, options.Update().SetUpsert(true))
		return err
	})
}

// Count returns the number of matching documents
func (q *QueryBuilder) Count(ctx context.Context) (int64, error) {
	var n int64
	err := otel.ExecuteSelect(ctx, q.name, func(ctx context.Context) error {
		var err error
		n, err = q.collection.CountDocuments(ctx, q.filter)
		return err
	})
	return n, err
}

// Insert adds one document to the collection.
func (q *QueryBuilder) Insert(ctx context.Context, document interface{}) error {
	return otel.ExecuteInsert(ctx, q.name, func(ctx context.Context) error {
		_, err := q.collection.InsertOne(ctx, document)
		return err
	})
}
