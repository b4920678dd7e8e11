// Package docstore persists the document side of the chat core:
// messages and per-user reactions, backed by MongoDB. Message edits and
// deletes lean on single-document atomicity for race safety; reactions
// lean on a unique (message, user) index instead of application
// locking.
package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	messagesCollection  = "chat_messages"
	reactionsCollection = "message_reactions"
)

type DocStore struct {
	db     *mongo.Database
	logger *zap.SugaredLogger
}

func Connect(ctx context.Context, uri, database string, logger *zap.SugaredLogger) (*DocStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &DocStore{db: client.Database(database), logger: logger}, nil
}

func NewWithDatabase(db *mongo.Database, logger *zap.SugaredLogger) *DocStore {
	return &DocStore{db: db, logger: logger}
}

// EnsureIndexes creates the indexes the consistency protocol depends
// on. The unique (message_id, user_id) reaction index is load-bearing:
// it is what makes concurrent first-time reaction inserts resolve to
// exactly one row.
func (d *DocStore) EnsureIndexes(ctx context.Context) error {
	_, err := d.db.Collection(messagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create message index: %w", err)
	}

	_, err = d.db.Collection(reactionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create reaction index: %w", err)
	}
	return nil
}

func (d *DocStore) Close(ctx context.Context) error {
	return d.db.Client().Disconnect(ctx)
}
