package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PairKey returns the canonical direction-independent key for a user
// pair.
func PairKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

// CreateFriendRequest inserts a new PENDING request. The partial unique
// index on pair_key WHERE status='PENDING' is the race arbiter for
// duplicate sends in either direction: the first write wins and the
// loser gets ErrDuplicateRequest, never a corrupted row.
func (s *PostgresStore) CreateFriendRequest(ctx context.Context, req FriendRequest) (FriendRequest, error) {
	s.logger.Debugw("creating friend request", "sender", req.SenderID, "receiver", req.ReceiverID)

	now := time.Now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO friend_requests (id, sender_id, receiver_id, pair_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING created_at, updated_at
	`, req.ID, req.SenderID, req.ReceiverID, PairKey(req.SenderID, req.ReceiverID),
		RequestPending, now).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return FriendRequest{}, ErrDuplicateRequest
		}
		return FriendRequest{}, wrapErr("insert friend request", err)
	}
	req.Status = RequestPending
	return req, nil
}

// GetPendingRequest returns the PENDING request from sender to
// receiver, or nil when none exists.
func (s *PostgresStore) GetPendingRequest(ctx context.Context, senderID, receiverID string) (*FriendRequest, error) {
	var req FriendRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sender_id, receiver_id, status, created_at, updated_at
		FROM friend_requests
		WHERE sender_id=$1 AND receiver_id=$2 AND status=$3
	`, senderID, receiverID, RequestPending).Scan(
		&req.ID, &req.SenderID, &req.ReceiverID, &req.Status, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("lookup pending request", err)
	}
	return &req, nil
}

// AcceptRequest flips the request to ACCEPTED and creates both
// friendship directions in one transaction. The update is guarded by
// status='PENDING': when a concurrent accept or reject got there first,
// nothing is written and false is returned.
func (s *PostgresStore) AcceptRequest(ctx context.Context, requestID string) (bool, error) {
	s.logger.Debugw("accepting friend request", "request", requestID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapErr("begin accept", err)
	}
	defer tx.Rollback()

	var senderID, receiverID string
	err = tx.QueryRowContext(ctx, `
		UPDATE friend_requests
		SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status=$3
		RETURNING sender_id, receiver_id
	`, requestID, RequestAccepted, RequestPending).Scan(&senderID, &receiverID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr("accept request", err)
	}

	// Friendship creation is idempotent per direction; the two rows
	// model one symmetric relation.
	for _, pair := range [][2]string{{senderID, receiverID}, {receiverID, senderID}} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO friendships (user_id, friend_id)
			VALUES ($1, $2)
			ON CONFLICT (user_id, friend_id) DO NOTHING
		`, pair[0], pair[1]); err != nil {
			return false, wrapErr("insert friendship", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, wrapErr("commit accept", err)
	}
	return true, nil
}

// SetRequestStatus transitions a request from one status to another.
// It returns false when the request was not in the expected status,
// which is how the loser of a concurrent accept/reject/cancel race
// learns the request has moved on.
func (s *PostgresStore) SetRequestStatus(ctx context.Context, requestID, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE friend_requests SET status=$3, updated_at=NOW()
		WHERE id=$1 AND status=$2
	`, requestID, from, to)
	if err != nil {
		return false, wrapErr("set request status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("set request status rows", err)
	}
	return affected > 0, nil
}

// EnsureFriendship creates one friendship direction, silently keeping
// the existing row when the pair is already present.
func (s *PostgresStore) EnsureFriendship(ctx context.Context, userID, friendID string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO friendships (user_id, friend_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, friend_id) DO NOTHING
	`, userID, friendID); err != nil {
		return wrapErr("ensure friendship", err)
	}
	return nil
}

func (s *PostgresStore) AreFriends(ctx context.Context, userID, otherID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM friendships WHERE user_id=$1 AND friend_id=$2)
	`, userID, otherID).Scan(&exists)
	if err != nil {
		return false, wrapErr("check friendship", err)
	}
	return exists, nil
}

// RemoveFriendship deletes both directions. Removing a relation that
// does not exist is not an error.
func (s *PostgresStore) RemoveFriendship(ctx context.Context, userID, otherID string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM friendships
		WHERE (user_id=$1 AND friend_id=$2) OR (user_id=$2 AND friend_id=$1)
	`, userID, otherID); err != nil {
		return wrapErr("remove friendship", err)
	}
	return nil
}

// ListFriends returns the ids of everyone userID is friends with.
func (s *PostgresStore) ListFriends(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT friend_id FROM friendships WHERE user_id=$1 ORDER BY friend_id ASC
	`, userID)
	if err != nil {
		return nil, wrapErr("list friends", err)
	}
	defer rows.Close()

	var friends []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("scan friend", err)
		}
		friends = append(friends, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate friends", err)
	}
	return friends, nil
}
