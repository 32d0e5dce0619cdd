package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const counterDocID = "views"

// Mongo stores the counter as a single document and one document per
// visitor. Commits run in a transaction, so the deployment must be a replica
// set (Atlas, or mongod --replSet for local work).
type Mongo struct {
	client   *mongo.Client
	counters *mongo.Collection
	visitors *mongo.Collection
}

type counterDoc struct {
	TotalViews int64 `bson:"total_views"`
}

type visitorDoc struct {
	Fingerprint string    `bson:"_id"`
	LastSeen    time.Time `bson:"last_seen"`
}

func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	return &Mongo{
		client:   client,
		counters: db.Collection("counters"),
		visitors: db.Collection("visitors"),
	}, nil
}

func (m *Mongo) Load(ctx context.Context) (State, error) {
	out := Empty()

	var c counterDoc
	err := m.counters.FindOne(ctx, bson.M{"_id": counterDocID}).Decode(&c)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return Empty(), fmt.Errorf("load counter: %w", err)
	default:
		out.TotalViews = c.TotalViews
	}
	if out.TotalViews < 0 {
		return Empty(), fmt.Errorf("%w: negative total %d", ErrCorrupt, out.TotalViews)
	}

	cur, err := m.visitors.Find(ctx, bson.M{})
	if err != nil {
		return Empty(), fmt.Errorf("load visitors: %w", err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var v visitorDoc
		if err := cur.Decode(&v); err != nil {
			return Empty(), fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		out.Entries[v.Fingerprint] = v.LastSeen.UTC()
	}
	if err := cur.Err(); err != nil {
		return Empty(), fmt.Errorf("load visitors: %w", err)
	}
	return out, nil
}

func (m *Mongo) Commit(ctx context.Context, total int64, e Entry) error {
	sess, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	upsert := options.Update().SetUpsert(true)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := m.visitors.UpdateOne(sc,
			bson.M{"_id": e.Fingerprint},
			bson.M{"$set": bson.M{"last_seen": e.LastSeen.UTC()}},
			upsert); err != nil {
			return nil, fmt.Errorf("upsert visitor: %w", err)
		}
		if _, err := m.counters.UpdateOne(sc,
			bson.M{"_id": counterDocID},
			bson.M{"$set": bson.M{"total_views": total}},
			upsert); err != nil {
			return nil, fmt.Errorf("update counter: %w", err)
		}
		return nil, nil
	})
	return err
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
