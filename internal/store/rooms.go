package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

type PostgresStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func NewPostgresStore(db *sql.DB, logger *zap.SugaredLogger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// CreateRoom inserts the room and its initial member rows in one
// transaction. For INDIVIDUAL rooms the direct_key unique constraint is
// the race arbiter: when two callers create the same direct room
// concurrently, the loser's insert collides and the winner's persisted
// row is returned instead, so both callers observe the same room id.
func (s *PostgresStore) CreateRoom(ctx context.Context, room ChatRoom, members []MemberSpec) (ChatRoom, error) {
	s.logger.Debugw("creating room", "room", room.ID, "type", room.RoomType)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ChatRoom{}, wrapErr("begin create room", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_rooms (id, title, room_type, direct_key, last_active_at, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $5)
	`, room.ID, room.Title, room.RoomType, room.DirectKey, now)
	if err != nil {
		if isUniqueViolation(err) && room.DirectKey != "" {
			_ = tx.Rollback()
			existing, lookupErr := s.getRoomByDirectKey(ctx, room.DirectKey)
			if lookupErr != nil {
				return ChatRoom{}, lookupErr
			}
			return existing, nil
		}
		return ChatRoom{}, wrapErr("insert room", err)
	}

	for _, m := range members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_room_members (room_id, user_id, pinned, created_at)
			VALUES ($1, $2, $3, $4)
		`, room.ID, m.UserID, m.Pinned, now); err != nil {
			return ChatRoom{}, wrapErr("insert member", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ChatRoom{}, wrapErr("commit create room", err)
	}

	room.LastActiveAt = now
	room.CreatedAt = now
	return room, nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (ChatRoom, error) {
	return s.scanRoom(ctx, `WHERE id=$1`, roomID)
}

func (s *PostgresStore) getRoomByDirectKey(ctx context.Context, directKey string) (ChatRoom, error) {
	return s.scanRoom(ctx, `WHERE direct_key=$1`, directKey)
}

func (s *PostgresStore) scanRoom(ctx context.Context, where string, arg any) (ChatRoom, error) {
	var room ChatRoom
	var title, directKey sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, room_type, direct_key, last_message_id, last_message_text,
		       last_active_at, version, created_at
		FROM chat_rooms `+where, arg).Scan(
		&room.ID, &title, &room.RoomType, &directKey, &room.LastMessageID,
		&room.LastMessageText, &room.LastActiveAt, &room.Version, &room.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ChatRoom{}, ErrRoomNotFound
	}
	if err != nil {
		return ChatRoom{}, wrapErr("lookup room", err)
	}
	room.Title = title.String
	room.DirectKey = directKey.String
	return room, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, roomID string) ([]RoomMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, user_id, pinned, last_read_message_id, unread_count, created_at
		FROM chat_room_members
		WHERE room_id=$1
		ORDER BY user_id ASC
	`, roomID)
	if err != nil {
		return nil, wrapErr("list members", err)
	}
	defer rows.Close()

	var members []RoomMember
	for rows.Next() {
		var m RoomMember
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.Pinned, &m.LastReadMessageID,
			&m.UnreadCount, &m.CreatedAt); err != nil {
			return nil, wrapErr("scan member", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate members", err)
	}
	return members, nil
}

// ApplyMembershipDelta writes the delta's row changes and bumps the
// aggregate version, all guarded by the version the delta was computed
// from. It returns false, without writing anything, when the aggregate
// moved on in the meantime; the caller reloads and recomputes rather
// than retrying a stale delta.
func (s *PostgresStore) ApplyMembershipDelta(ctx context.Context, roomID string, version int64, delta MembershipDelta) (bool, error) {
	s.logger.Debugw("applying membership delta", "room", roomID, "version", version,
		"adds", len(delta.Adds), "removes", len(delta.Removes), "pin_changes", len(delta.PinChanges))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapErr("begin membership delta", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE chat_rooms SET version = version + 1 WHERE id=$1 AND version=$2
	`, roomID, version)
	if err != nil {
		return false, wrapErr("guard room version", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("guard room version rows", err)
	}
	if affected == 0 {
		// Stale version. Conflict is an ordinary result, not an error.
		return false, nil
	}

	now := time.Now()
	for _, m := range delta.Adds {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_room_members (room_id, user_id, pinned, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (room_id, user_id) DO NOTHING
		`, roomID, m.UserID, m.Pinned, now); err != nil {
			return false, wrapErr("add member", err)
		}
	}
	for _, userID := range delta.Removes {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM chat_room_members WHERE room_id=$1 AND user_id=$2
		`, roomID, userID); err != nil {
			return false, wrapErr("remove member", err)
		}
	}
	for userID, pinned := range delta.PinChanges {
		if _, err := tx.ExecContext(ctx, `
			UPDATE chat_room_members SET pinned=$3 WHERE room_id=$1 AND user_id=$2
		`, roomID, userID, pinned); err != nil {
			return false, wrapErr("update pin flag", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, wrapErr("commit membership delta", err)
	}
	return true, nil
}

// SetLastMessage updates the room's denormalized last-message pointer.
// Callers hold the room's distributed lock, so the write is not version
// guarded, but the version still advances so concurrent membership
// reconciliation observes the aggregate changed.
func (s *PostgresStore) SetLastMessage(ctx context.Context, roomID, messageID, text string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_rooms
		SET last_message_id=$2, last_message_text=$3, last_active_at=$4, version=version+1
		WHERE id=$1
	`, roomID, messageID, text, at)
	if err != nil {
		return wrapErr("set last message", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("set last message rows", err)
	}
	if affected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// IncrementUnread bumps the unread counter for the given members.
func (s *PostgresStore) IncrementUnread(ctx context.Context, roomID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_room_members
		SET unread_count = unread_count + 1
		WHERE room_id=$1 AND user_id = ANY($2)
	`, roomID, userIDs)
	if err != nil {
		return wrapErr("increment unread", err)
	}
	return nil
}

// UnreadSnapshot returns every member's current unread counter.
func (s *PostgresStore) UnreadSnapshot(ctx context.Context, roomID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, unread_count FROM chat_room_members WHERE room_id=$1
	`, roomID)
	if err != nil {
		return nil, wrapErr("unread snapshot", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var userID string
		var n int
		if err := rows.Scan(&userID, &n); err != nil {
			return nil, wrapErr("scan unread count", err)
		}
		counts[userID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate unread counts", err)
	}
	return counts, nil
}

// MarkRead resets the member's unread counter and advances the
// last-read pointer.
func (s *PostgresStore) MarkRead(ctx context.Context, roomID, userID, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_room_members
		SET unread_count = 0, last_read_message_id = $3
		WHERE room_id=$1 AND user_id=$2
	`, roomID, userID, messageID)
	if err != nil {
		return wrapErr("mark read", err)
	}
	return nil
}

// DeleteRoomIfEmpty removes the room once reconciliation has drained
// its participant set. Member rows cascade.
func (s *PostgresStore) DeleteRoomIfEmpty(ctx context.Context, roomID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_rooms r
		WHERE r.id=$1
		  AND NOT EXISTS (SELECT 1 FROM chat_room_members m WHERE m.room_id=r.id)
	`, roomID)
	if err != nil {
		return false, wrapErr("delete empty room", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("delete empty room rows", err)
	}
	return affected > 0, nil
}
