package app

import (
	"context"
	"errors"

	"relay/api/internal/event"
	"relay/api/internal/store"
	"relay/api/internal/util"
)

// SendFriendRequest opens a PENDING request from userID to otherID.
// Validation order is fixed: the friendship check runs before the
// request-state checks, and the reverse direction is checked before the
// forward one, so "already received" wins over "already sent" when both
// could apply.
func (s *Service) SendFriendRequest(ctx context.Context, userID, otherID string) (store.FriendRequest, error) {
	if userID == otherID {
		return store.FriendRequest{}, domainError(KindValidation, "SELF_REQUEST", "cannot befriend yourself")
	}

	friends, err := s.friends.AreFriends(ctx, userID, otherID)
	if err != nil {
		return store.FriendRequest{}, mapInfra(err)
	}
	if friends {
		return store.FriendRequest{}, domainError(KindDuplicate, "ALREADY_FRIENDS", "users are already friends")
	}

	reverse, err := s.friends.GetPendingRequest(ctx, otherID, userID)
	if err != nil {
		return store.FriendRequest{}, mapInfra(err)
	}
	if reverse != nil {
		derr := domainError(KindDuplicate, "ALREADY_RECEIVED", "the other user already sent you a request")
		derr.Existing = *reverse
		return store.FriendRequest{}, derr
	}

	req := store.FriendRequest{
		ID:         util.NewID("req"),
		SenderID:   userID,
		ReceiverID: otherID,
	}
	created, err := s.friends.CreateFriendRequest(ctx, req)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateRequest) {
			// The store's pending-pair constraint caught a duplicate,
			// possibly a concurrent one in either direction. Benign;
			// classify by which direction actually won.
			if mirror, lookupErr := s.friends.GetPendingRequest(ctx, otherID, userID); lookupErr == nil && mirror != nil {
				derr := domainError(KindDuplicate, "ALREADY_RECEIVED", "the other user already sent you a request")
				derr.Existing = *mirror
				return store.FriendRequest{}, derr
			}
			derr := domainError(KindDuplicate, "ALREADY_SENT", "a pending request already exists")
			if existing, lookupErr := s.friends.GetPendingRequest(ctx, userID, otherID); lookupErr == nil && existing != nil {
				derr.Existing = *existing
			}
			return store.FriendRequest{}, derr
		}
		return store.FriendRequest{}, mapInfra(err)
	}

	s.logger.Infow("friend request sent", "request", created.ID, "sender", userID, "receiver", otherID)
	return created, nil
}

// AcceptFriendRequest accepts the incoming PENDING request from otherID
// to userID. The store transition is guarded by the PENDING status, so
// exactly one of a concurrent accept and reject wins; the loser gets a
// "no longer pending" conflict. On success both friendship directions
// exist and a friend-added event is emitted for each participant.
func (s *Service) AcceptFriendRequest(ctx context.Context, userID, otherID string) error {
	req, err := s.friends.GetPendingRequest(ctx, otherID, userID)
	if err != nil {
		return mapInfra(err)
	}
	if req == nil {
		return domainError(KindValidation, "NO_PENDING_REQUEST", "no incoming pending request from this user")
	}

	accepted, err := s.friends.AcceptRequest(ctx, req.ID)
	if err != nil {
		return mapInfra(err)
	}
	if !accepted {
		return domainError(KindDuplicate, "REQUEST_NOT_PENDING", "request is no longer in the expected state")
	}

	s.bus.PublishFriendAdded(event.FriendAdded{UserID: userID, FriendID: otherID})
	s.bus.PublishFriendAdded(event.FriendAdded{UserID: otherID, FriendID: userID})
	s.logger.Infow("friend request accepted", "request", req.ID)
	return nil
}

// RejectFriendRequest rejects the incoming PENDING request from otherID.
func (s *Service) RejectFriendRequest(ctx context.Context, userID, otherID string) error {
	req, err := s.friends.GetPendingRequest(ctx, otherID, userID)
	if err != nil {
		return mapInfra(err)
	}
	if req == nil {
		return domainError(KindValidation, "NO_PENDING_REQUEST", "no incoming pending request from this user")
	}

	rejected, err := s.friends.SetRequestStatus(ctx, req.ID, store.RequestPending, store.RequestRejected)
	if err != nil {
		return mapInfra(err)
	}
	if !rejected {
		return domainError(KindDuplicate, "REQUEST_NOT_PENDING", "request is no longer in the expected state")
	}
	return nil
}

// CancelFriendRequest withdraws the caller's own outgoing PENDING
// request to otherID.
func (s *Service) CancelFriendRequest(ctx context.Context, userID, otherID string) error {
	req, err := s.friends.GetPendingRequest(ctx, userID, otherID)
	if err != nil {
		return mapInfra(err)
	}
	if req == nil {
		return domainError(KindValidation, "NO_PENDING_REQUEST", "no outgoing pending request to this user")
	}

	cancelled, err := s.friends.SetRequestStatus(ctx, req.ID, store.RequestPending, store.RequestCancelled)
	if err != nil {
		return mapInfra(err)
	}
	if !cancelled {
		return domainError(KindDuplicate, "REQUEST_NOT_PENDING", "request is no longer in the expected state")
	}
	return nil
}

// RemoveFriend deletes the relation in both directions; removing a
// relation that does not exist is a no-op.
func (s *Service) RemoveFriend(ctx context.Context, userID, otherID string) error {
	return mapInfra(s.friends.RemoveFriendship(ctx, userID, otherID))
}

func (s *Service) ListFriends(ctx context.Context, userID string) ([]string, error) {
	friends, err := s.friends.ListFriends(ctx, userID)
	if err != nil {
		return nil, mapInfra(err)
	}
	return friends, nil
}
