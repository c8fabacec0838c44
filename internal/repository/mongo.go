package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"brokenLinkAnalyzerGO/internal/config"
	"brokenLinkAnalyzerGO/internal/models"
)

var terminalStatuses = bson.A{models.StatusCompleted, models.StatusFailed, models.StatusCancelled}

// MongoRepository implements Repository interface for MongoDB
type MongoRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoRepository connects to MongoDB and prepares the analyses collection
func NewMongoRepository(ctx context.Context, cfg config.MongoDBConfig) (*MongoRepository, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.Timeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	// Check the connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	collection := client.Database(cfg.Database).Collection(cfg.CollectionName)

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "started_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "completed_at", Value: 1}},
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return &MongoRepository{
		client:     client,
		collection: collection,
	}, nil
}

func (r *MongoRepository) Create(ctx context.Context, analysis *models.Analysis) error {
	if _, err := r.collection.InsertOne(ctx, analysis); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*models.Analysis, error) {
	var analysis models.Analysis
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&analysis)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &analysis, nil
}

// Update replaces the document only if its version is unchanged since it was
// read, retrying on a lost race.
func (r *MongoRepository) Update(ctx context.Context, id string, fn UpdateFunc) (*models.Analysis, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		current, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		next.Version = current.Version + 1

		res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": id, "version": current.Version}, next)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 1 {
			return next, nil
		}
	}
	return nil, fmt.Errorf("update analysis %s: %w", id, ErrConflict)
}

func (r *MongoRepository) ListByUser(ctx context.Context, userID string, offset, limit int) ([]*models.Analysis, int, error) {
	filter := bson.M{"user_id": userID}

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(max(offset, 0)))
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}

	analyses, err := r.find(ctx, filter, findOptions)
	if err != nil {
		return nil, 0, err
	}
	return analyses, int(total), nil
}

func (r *MongoRepository) ListByStatus(ctx context.Context, statuses ...models.Status) ([]*models.Analysis, error) {
	findOptions := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: 1}})
	return r.find(ctx, bson.M{"status": bson.M{"$in": statuses}}, findOptions)
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	filter := bson.M{
		"status": bson.M{"$in": terminalStatuses},
		"$or": bson.A{
			bson.M{"completed_at": bson.M{"$lt": cutoff}},
			bson.M{"cancelled_at": bson.M{"$lt": cutoff}},
			bson.M{
				"completed_at": bson.M{"$exists": false},
				"cancelled_at": bson.M{"$exists": false},
				"started_at":   bson.M{"$lt": cutoff},
			},
		},
	}

	res, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

// Close closes the MongoDB connection
func (r *MongoRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *MongoRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Analysis, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	analyses := []*models.Analysis{}
	if err := cursor.All(ctx, &analyses); err != nil {
		return nil, err
	}
	return analyses, nil
}
