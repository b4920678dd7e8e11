package docstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrMessageNotFound  = errors.New("message does not exist")
	ErrMessageDeleted   = errors.New("message is deleted")
	ErrNotTextMessage   = errors.New("only text messages can be edited")
	ErrEditWindowClosed = errors.New("edit window has closed")
)

func (d *DocStore) messages() *mongo.Collection {
	return d.db.Collection(messagesCollection)
}

func (d *DocStore) InsertMessage(ctx context.Context, msg ChatMessage) error {
	d.logger.Debugw("inserting message", "message", msg.ID, "room", msg.RoomID)

	if _, err := d.messages().InsertOne(ctx, msg); err != nil {
		return wrapErr("insert message", err)
	}
	return nil
}

func (d *DocStore) GetMessage(ctx context.Context, messageID string) (ChatMessage, error) {
	var msg ChatMessage
	err := d.messages().FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ChatMessage{}, ErrMessageNotFound
	}
	if err != nil {
		return ChatMessage{}, wrapErr("lookup message", err)
	}
	return msg, nil
}

func (d *DocStore) UpdateMessageStatus(ctx context.Context, messageID, status string) error {
	res, err := d.messages().UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now()}})
	if err != nil {
		return wrapErr("update message status", err)
	}
	if res.MatchedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// EditMessage rewrites the text of a message. The whole rule (TEXT
// content, not deleted, younger than the edit window) is folded into
// the update filter, so a concurrent delete and edit of the same
// message can never both apply; the document matches at most one of
// them.
func (d *DocStore) EditMessage(ctx context.Context, messageID, senderID, text string) error {
	now := time.Now()
	res, err := d.messages().UpdateOne(ctx,
		bson.M{
			"_id":          messageID,
			"sender_id":    senderID,
			"deleted":      false,
			"content_type": ContentTypeText,
			"created_at":   bson.M{"$gt": now.Add(-EditWindow)},
		},
		bson.M{"$set": bson.M{"text": text, "edited": true, "updated_at": now}})
	if err != nil {
		return wrapErr("edit message", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// Nothing matched; classify why for the caller.
	msg, err := d.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	switch {
	case msg.SenderID != senderID:
		return ErrMessageNotFound
	case msg.Deleted:
		return ErrMessageDeleted
	case msg.ContentType != ContentTypeText:
		return ErrNotTextMessage
	default:
		return ErrEditWindowClosed
	}
}

// DeleteMessage soft-deletes; the document stays for history views.
func (d *DocStore) DeleteMessage(ctx context.Context, messageID, senderID string) error {
	res, err := d.messages().UpdateOne(ctx,
		bson.M{"_id": messageID, "sender_id": senderID, "deleted": false},
		bson.M{"$set": bson.M{"deleted": true, "text": "", "updated_at": time.Now()}})
	if err != nil {
		return wrapErr("delete message", err)
	}
	if res.MatchedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// RemoveMessage hard-deletes the document. Used only as a compensating
// action when a downstream step of message processing fails.
func (d *DocStore) RemoveMessage(ctx context.Context, messageID string) error {
	if _, err := d.messages().DeleteOne(ctx, bson.M{"_id": messageID}); err != nil {
		return wrapErr("remove message", err)
	}
	return nil
}

// MarkMessageRead flips one user's flag in the message's read map.
func (d *DocStore) MarkMessageRead(ctx context.Context, messageID, userID string) error {
	_, err := d.messages().UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"read_by." + userID: true, "updated_at": time.Now()}})
	if err != nil {
		return wrapErr("mark message read", err)
	}
	return nil
}

// ListRoomMessages returns the newest messages of a room.
func (d *DocStore) ListRoomMessages(ctx context.Context, roomID string, limit int64) ([]ChatMessage, error) {
	opts := mongoFindNewest(limit)
	cur, err := d.messages().Find(ctx, bson.M{"room_id": roomID}, opts)
	if err != nil {
		return nil, wrapErr("list room messages", err)
	}
	defer cur.Close(ctx)

	var msgs []ChatMessage
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, wrapErr("decode room messages", err)
	}
	return msgs, nil
}
