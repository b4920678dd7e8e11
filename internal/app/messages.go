package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relay/api/internal/dlock"
	"relay/api/internal/docstore"
	"relay/api/internal/event"
	"relay/api/internal/util"
)

// NewMessageInput is what the ingestion pipeline hands the coordinator.
// CorrelationID is a client-supplied token used only for status
// reporting.
type NewMessageInput struct {
	CorrelationID string
	RoomID        string
	SenderID      string
	Text          string
	ContentType   string
	ExpiresAt     *time.Time
}

func roomLockKey(roomID string) string {
	return "chatroom:" + roomID
}

// ProcessNewMessage runs the message-arrival workflow: persist the
// message, recompute each participant's unread counter, advance the
// room's last-message pointer, then publish the unread-count snapshot.
// Everything that reads then writes denormalized room state happens
// inside the room's distributed critical section, so two concurrent
// senders cannot both observe the pre-increment counters and write back
// an undercounted result.
func (s *Service) ProcessNewMessage(ctx context.Context, in NewMessageInput) (*docstore.ChatMessage, error) {
	s.statuses.publish(StatusUpdate{CorrelationID: in.CorrelationID, Status: docstore.MessageSending})

	if in.RoomID == "" || in.SenderID == "" {
		derr := domainError(KindValidation, "BAD_MESSAGE", "room and sender are required")
		s.statuses.publish(StatusUpdate{
			CorrelationID: in.CorrelationID,
			Status:        docstore.MessageFailed,
			Reason:        derr.Message,
		})
		return nil, derr
	}
	if in.ContentType == "" {
		in.ContentType = docstore.ContentTypeText
	}

	s.statuses.publish(StatusUpdate{CorrelationID: in.CorrelationID, Status: docstore.MessageProcessing})

	var (
		saved    docstore.ChatMessage
		snapshot map[string]int
	)

	err := s.locker.WithLock(ctx, roomLockKey(in.RoomID), func(ctx context.Context) error {
		members, err := s.rooms.ListMembers(ctx, in.RoomID)
		if err != nil {
			return fmt.Errorf("list members: %w", err)
		}
		if len(members) == 0 {
			return domainError(KindValidation, "ROOM_NOT_FOUND", "room has no members")
		}

		now := time.Now()
		readBy := make(map[string]bool, len(members))
		for _, m := range members {
			readBy[m.UserID] = m.UserID == in.SenderID
		}

		msg := docstore.ChatMessage{
			ID:          util.NewID("msg"),
			RoomID:      in.RoomID,
			SenderID:    in.SenderID,
			Text:        in.Text,
			ContentType: in.ContentType,
			ReadBy:      readBy,
			Status:      docstore.MessageSentToLog,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   in.ExpiresAt,
		}
		if err := s.messages.InsertMessage(ctx, msg); err != nil {
			return fmt.Errorf("persist message: %w", err)
		}
		s.statuses.publish(StatusUpdate{
			CorrelationID: in.CorrelationID,
			Status:        docstore.MessageSentToLog,
			MessageID:     msg.ID,
		})

		var comps compensations
		comps.add(func(ctx context.Context) {
			if err := s.messages.RemoveMessage(ctx, msg.ID); err != nil {
				s.logger.Errorw("compensation: remove message failed", "message", msg.ID, "error", err)
			}
		})

		// Everyone but the sender who is not actively viewing the room
		// gets an unread bump. A presence lookup failure counts as
		// absent, which over-notifies rather than dropping the signal.
		var recipients []string
		for _, m := range members {
			if m.UserID == in.SenderID {
				continue
			}
			if !s.presence.IsPresent(ctx, in.RoomID, m.UserID) {
				recipients = append(recipients, m.UserID)
			}
		}
		if err := s.rooms.IncrementUnread(ctx, in.RoomID, recipients); err != nil {
			comps.run(ctx)
			return fmt.Errorf("increment unread: %w", err)
		}
		comps.add(func(ctx context.Context) {
			// The counter bump has no dedicated undo; removing the
			// message and reporting failure keeps the room digest
			// self-correcting on the next arrival. Logged for audit.
			s.logger.Warnw("compensation: unread counters left bumped", "room", in.RoomID)
		})

		if err := s.rooms.SetLastMessage(ctx, in.RoomID, msg.ID, msg.Text, now); err != nil {
			comps.run(ctx)
			return fmt.Errorf("set last message: %w", err)
		}

		if err := s.messages.UpdateMessageStatus(ctx, msg.ID, docstore.MessageSaved); err != nil {
			comps.run(ctx)
			return fmt.Errorf("finalize message status: %w", err)
		}
		msg.Status = docstore.MessageSaved

		counts, err := s.rooms.UnreadSnapshot(ctx, in.RoomID)
		if err != nil {
			// The write side is consistent; only the event payload is
			// in question. Publish with what the increment produced.
			s.logger.Warnw("unread snapshot failed", "room", in.RoomID, "error", err)
			counts = map[string]int{}
		}

		saved = msg
		snapshot = counts
		return nil
	})
	if err != nil {
		s.statuses.publish(StatusUpdate{
			CorrelationID: in.CorrelationID,
			Status:        docstore.MessageFailed,
			Reason:        err.Error(),
		})
		if errors.Is(err, dlock.ErrLockTimeout) {
			return nil, domainError(KindLockTimeout, "ROOM_BUSY", "could not acquire room lock")
		}
		return nil, mapInfra(err)
	}

	s.bus.PublishUnread(event.UnreadCountsChanged{
		RoomID:          in.RoomID,
		UnreadByUser:    snapshot,
		LastMessageText: saved.Text,
	})
	s.statuses.publish(StatusUpdate{
		CorrelationID: in.CorrelationID,
		Status:        docstore.MessageSaved,
		MessageID:     saved.ID,
	})

	return &saved, nil
}

// EditMessage applies the single-document edit rule: TEXT content, not
// deleted, within the edit window. Violations surface as validation
// errors, never retried.
func (s *Service) EditMessage(ctx context.Context, messageID, senderID, text string) error {
	err := s.messages.EditMessage(ctx, messageID, senderID, text)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrMessageNotFound):
		return domainError(KindValidation, "MESSAGE_NOT_FOUND", "message does not exist")
	case errors.Is(err, docstore.ErrMessageDeleted):
		return domainError(KindValidation, "MESSAGE_DELETED", "cannot edit a deleted message")
	case errors.Is(err, docstore.ErrNotTextMessage):
		return domainError(KindValidation, "NOT_TEXT", "only text messages can be edited")
	case errors.Is(err, docstore.ErrEditWindowClosed):
		return domainError(KindValidation, "EDIT_WINDOW_CLOSED", "message is too old to edit")
	default:
		return mapInfra(err)
	}
}

func (s *Service) DeleteMessage(ctx context.Context, messageID, senderID string) error {
	err := s.messages.DeleteMessage(ctx, messageID, senderID)
	if errors.Is(err, docstore.ErrMessageNotFound) {
		return domainError(KindValidation, "MESSAGE_NOT_FOUND", "message does not exist")
	}
	return mapInfra(err)
}

// MarkRead clears the member's unread counter and records the read flag
// on the message document.
func (s *Service) MarkRead(ctx context.Context, roomID, userID, messageID string) error {
	if err := s.rooms.MarkRead(ctx, roomID, userID, messageID); err != nil {
		return mapInfra(err)
	}
	return mapInfra(s.messages.MarkMessageRead(ctx, messageID, userID))
}

// RoomMessages returns a room's newest messages.
func (s *Service) RoomMessages(ctx context.Context, roomID string, limit int64) ([]docstore.ChatMessage, error) {
	msgs, err := s.messages.ListRoomMessages(ctx, roomID, limit)
	if err != nil {
		return nil, mapInfra(err)
	}
	return msgs, nil
}
