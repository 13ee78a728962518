package transcript

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection transcripts live in.
const CollectionName = "transcripts"

// MongoArchive stores transcripts in MongoDB.
type MongoArchive struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// ConnectMongo connects to uri, verifies the connection and ensures the
// session index exists.
func ConnectMongo(ctx context.Context, uri, database string) (*MongoArchive, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	a := &MongoArchive{client: client, coll: client.Database(database).Collection(CollectionName)}
	_, err = a.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "player_id", Value: 1}, {Key: "session_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create transcript index: %w", err)
	}
	return a, nil
}

// Append implements Archive.
func (a *MongoArchive) Append(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if _, err := a.coll.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// Recent implements Archive.
func (a *MongoArchive) Recent(ctx context.Context, playerID, sessionID string, n int) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(n))

	cursor, err := a.coll.Find(ctx, bson.M{"player_id": playerID, "session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("recent transcript: %w", err)
	}
	defer cursor.Close(ctx)

	entries := []Entry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	slices.Reverse(entries)
	return entries, nil
}

// Close disconnects the client.
func (a *MongoArchive) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}
