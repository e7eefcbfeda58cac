package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const snapshotCollection = "snapshots"

type mongoSnapshot struct {
	Name      string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoSnapshotStore keeps snapshots as one document per name.
type MongoSnapshotStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoSnapshotStore connects to uri and uses the snapshots collection of
// database dbName.
func NewMongoSnapshotStore(ctx context.Context, uri, dbName string) (*MongoSnapshotStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}

	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	slog.InfoContext(ctx, "Connected to MongoDB", "database", dbName)

	return &MongoSnapshotStore{
		client:     client,
		collection: client.Database(dbName).Collection(snapshotCollection),
	}, nil
}

// Close closes the database connection
func (s *MongoSnapshotStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoSnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoSnapshotStore) Load(ctx context.Context, name string) ([]byte, int64, error) {
	var doc mongoSnapshot
	err := s.collection.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("find snapshot %s: %w", name, err)
	}
	return doc.Data, doc.Version, nil
}

func (s *MongoSnapshotStore) Save(ctx context.Context, name string, data []byte, expected int64) (int64, error) {
	now := time.Now().UTC()

	if expected == 0 {
		_, err := s.collection.InsertOne(ctx, mongoSnapshot{Name: name, Data: data, Version: 1, UpdatedAt: now})
		if mongo.IsDuplicateKeyError(err) {
			return 0, ErrVersionConflict
		}
		if err != nil {
			return 0, fmt.Errorf("insert snapshot %s: %w", name, err)
		}
		return 1, nil
	}

	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": name, "version": expected},
		bson.M{
			"$set": bson.M{"data": data, "updated_at": now},
			"$inc": bson.M{"version": 1},
		})
	if err != nil {
		return 0, fmt.Errorf("update snapshot %s: %w", name, err)
	}
	if res.MatchedCount == 0 {
		return 0, ErrVersionConflict
	}
	return expected + 1, nil
}
