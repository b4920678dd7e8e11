package docstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (d *DocStore) reactions() *mongo.Collection {
	return d.db.Collection(reactionsCollection)
}

func mongoFindNewest(limit int64) *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
}

// GetReaction returns the user's reaction on a message, or nil when
// there is none.
func (d *DocStore) GetReaction(ctx context.Context, messageID, userID string) (*Reaction, error) {
	var r Reaction
	err := d.reactions().FindOne(ctx, bson.M{"message_id": messageID, "user_id": userID}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("lookup reaction", err)
	}
	return &r, nil
}

// UpsertReaction stores the user's reaction, overwriting the type when
// a row already exists. The unique (message_id, user_id) index means
// two concurrent first-time upserts can still collide inside the
// server; the loser's duplicate-key error is retried as a plain update,
// so the caller always ends with exactly one stored row. Returns true
// when a new row was created.
func (d *DocStore) UpsertReaction(ctx context.Context, messageID, userID, reactionType string) (bool, error) {
	d.logger.Debugw("upserting reaction", "message", messageID, "user", userID, "type", reactionType)

	now := time.Now()
	filter := bson.M{"message_id": messageID, "user_id": userID}
	update := bson.M{
		"$set":         bson.M{"type": reactionType, "updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}

	res, err := d.reactions().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return false, wrapErr("upsert reaction", err)
		}
		// Lost the insert race; the row exists now, update in place.
		if _, err := d.reactions().UpdateOne(ctx, filter, bson.M{
			"$set": bson.M{"type": reactionType, "updated_at": now},
		}); err != nil {
			return false, wrapErr("update reaction after collision", err)
		}
		return false, nil
	}
	return res.UpsertedCount > 0, nil
}

// RemoveReaction deletes the user's reaction. Removing a reaction that
// does not exist is not an error; it reports whether a row was removed.
func (d *DocStore) RemoveReaction(ctx context.Context, messageID, userID string) (bool, error) {
	res, err := d.reactions().DeleteOne(ctx, bson.M{"message_id": messageID, "user_id": userID})
	if err != nil {
		return false, wrapErr("remove reaction", err)
	}
	return res.DeletedCount > 0, nil
}

// ListMessageReactions returns all reactions on a message.
func (d *DocStore) ListMessageReactions(ctx context.Context, messageID string) ([]Reaction, error) {
	cur, err := d.reactions().Find(ctx, bson.M{"message_id": messageID})
	if err != nil {
		return nil, wrapErr("list reactions", err)
	}
	defer cur.Close(ctx)

	var reactions []Reaction
	if err := cur.All(ctx, &reactions); err != nil {
		return nil, wrapErr("decode reactions", err)
	}
	return reactions, nil
}
