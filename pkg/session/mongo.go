package session

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/graph"
)

// MongoOptions configures a [MongoStore].
type MongoOptions struct {
	URI        string // default "mongodb://localhost:27017"
	Database   string // default "pipescope"
	Collection string // default "sessions"
}

// MongoStore keeps one document per session, keyed by name.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to MongoDB and ensures the name index exists.
func NewMongoStore(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	if opts.URI == "" {
		opts.URI = "mongodb://localhost:27017"
	}
	if opts.Database == "" {
		opts.Database = "pipescope"
	}
	if opts.Collection == "" {
		opts.Collection = "sessions"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(opts.Database).Collection(opts.Collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("create session index: %w", err)
	}
	return &MongoStore{client: client, coll: coll}, nil
}

func (s *MongoStore) Save(ctx context.Context, name string, doc graph.Document) error {
	if err := perrors.ValidateSessionName(name); err != nil {
		return err
	}
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"name": name},
		newRecord(name, doc),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save session %q to mongo: %w", name, err)
	}
	return nil
}

func (s *MongoStore) Load(ctx context.Context, name string) (graph.Document, error) {
	if err := perrors.ValidateSessionName(name); err != nil {
		return graph.Document{}, err
	}
	var rec Record
	if err := s.coll.FindOne(ctx, bson.M{"name": name}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return graph.Document{}, notFound(name)
		}
		return graph.Document{}, fmt.Errorf("load session %q from mongo: %w", name, err)
	}
	return rec.Document, nil
}

func (s *MongoStore) List(ctx context.Context) ([]Info, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "name", Value: 1}}).
		SetProjection(bson.M{"document": 0})
	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer cur.Close(ctx)

	infos := []Info{}
	for cur.Next(ctx) {
		var info Info
		if err := cur.Decode(&info); err != nil {
			return nil, fmt.Errorf("decode session info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, cur.Err()
}

func (s *MongoStore) Delete(ctx context.Context, name string) error {
	if err := perrors.ValidateSessionName(name); err != nil {
		return err
	}
	if _, err := s.coll.DeleteOne(ctx, bson.M{"name": name}); err != nil {
		return fmt.Errorf("delete session %q: %w", name, err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

var _ Store = (*MongoStore)(nil)
