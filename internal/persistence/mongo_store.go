package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/statebox/pkg/api"
)

// MongoStore is a Store backed by a MongoDB collection. Each key is one
// document. Deletes leave a tombstone so the change stream can still tell
// which origin removed the key.
//
// Watch uses change streams, which require a replica set or sharded
// cluster.
type MongoStore struct {
	coll   *mongo.Collection
	origin string
}

// Ensure MongoStore implements Store.
var _ Store = (*MongoStore)(nil)

type mongoValueDoc struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value,omitempty"`
	Origin    string    `bson:"origin"`
	Deleted   bool      `bson:"deleted"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type mongoChangeEvent struct {
	OperationType string         `bson:"operationType"`
	FullDocument  *mongoValueDoc `bson:"fullDocument"`
}

// NewMongoStore creates a Mongo-backed store view.
// dbName defaults to "statebox" if empty, collName defaults to "values".
func NewMongoStore(client *mongo.Client, dbName, collName string) *MongoStore {
	if dbName == "" {
		dbName = "statebox"
	}
	if collName == "" {
		collName = "values"
	}

	return &MongoStore{
		coll:   client.Database(dbName).Collection(collName),
		origin: newOrigin(),
	}
}

// Tab returns another view over the same collection with a new origin.
func (s *MongoStore) Tab() *MongoStore {
	return &MongoStore{coll: s.coll, origin: newOrigin()}
}

func (s *MongoStore) Origin() string {
	return s.origin
}

func (s *MongoStore) Load(ctx context.Context, key string) (string, bool, error) {
	var doc mongoValueDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, err
	}
	if doc.Deleted {
		return "", false, nil
	}
	return doc.Value, true, nil
}

func (s *MongoStore) Store(ctx context.Context, key, value string) error {
	doc := mongoValueDoc{
		Key:       key,
		Value:     value,
		Origin:    s.origin,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) Delete(ctx context.Context, key string) error {
	doc := mongoValueDoc{
		Key:       key,
		Origin:    s.origin,
		Deleted:   true,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

// Watch opens a change stream filtered to key.
func (s *MongoStore) Watch(ctx context.Context, key string, fn func(api.Change)) (func(), error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: key}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	cs, err := s.coll.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cs.Close(context.Background())
		for cs.Next(ctx) {
			var ev mongoChangeEvent
			if err := cs.Decode(&ev); err != nil {
				continue
			}
			if ev.FullDocument == nil || ev.FullDocument.Origin == s.origin {
				continue
			}

			change := api.Change{Key: key, Origin: ev.FullDocument.Origin}
			if !ev.FullDocument.Deleted {
				v := ev.FullDocument.Value
				change.Value = &v
			}
			fn(change)
		}
	}()

	return cancel, nil
}
