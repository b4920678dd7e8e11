package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"relay/api/internal/store"
	"relay/api/internal/util"
)

// DirectKey returns the canonical unique key for an INDIVIDUAL room
// between two users, independent of argument order.
func DirectKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

// CreateDirectRoom creates (or returns) the one INDIVIDUAL room between
// two users. Concurrent creations are resolved by the store's unique
// direct-key constraint; every caller observes the same room id.
func (s *Service) CreateDirectRoom(ctx context.Context, userA, userB string) (store.ChatRoom, error) {
	if userA == userB {
		return store.ChatRoom{}, domainError(KindValidation, "SELF_ROOM", "cannot open a direct room with yourself")
	}

	room := store.ChatRoom{
		ID:        util.NewID("room"),
		RoomType:  store.RoomTypeIndividual,
		DirectKey: DirectKey(userA, userB),
	}
	members := []store.MemberSpec{{UserID: userA}, {UserID: userB}}

	created, err := s.rooms.CreateRoom(ctx, room, members)
	if err != nil {
		return store.ChatRoom{}, mapInfra(err)
	}
	return created, nil
}

func (s *Service) CreateGroupRoom(ctx context.Context, title, creatorID string, memberIDs []string) (store.ChatRoom, error) {
	seen := map[string]bool{creatorID: true}
	members := []store.MemberSpec{{UserID: creatorID}}
	for _, id := range memberIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, store.MemberSpec{UserID: id})
	}

	room := store.ChatRoom{
		ID:       util.NewID("room"),
		Title:    title,
		RoomType: store.RoomTypeGroup,
	}
	created, err := s.rooms.CreateRoom(ctx, room, members)
	if err != nil {
		return store.ChatRoom{}, mapInfra(err)
	}
	return created, nil
}

// computeMembershipDelta diffs persisted membership against the desired
// participant set as set operations. Never positional: the same users
// in a different order produce an empty delta.
func computeMembershipDelta(current []store.RoomMember, desired []store.MemberSpec) store.MembershipDelta {
	currentByID := make(map[string]store.RoomMember, len(current))
	for _, m := range current {
		currentByID[m.UserID] = m
	}
	desiredByID := make(map[string]store.MemberSpec, len(desired))
	for _, m := range desired {
		desiredByID[m.UserID] = m
	}

	delta := store.MembershipDelta{PinChanges: map[string]bool{}}
	for _, want := range desired {
		have, ok := currentByID[want.UserID]
		if !ok {
			delta.Adds = append(delta.Adds, want)
			continue
		}
		if have.Pinned != want.Pinned {
			delta.PinChanges[want.UserID] = want.Pinned
		}
	}
	for _, have := range current {
		if _, ok := desiredByID[have.UserID]; !ok {
			delta.Removes = append(delta.Removes, have.UserID)
		}
	}
	sort.Slice(delta.Adds, func(i, j int) bool { return delta.Adds[i].UserID < delta.Adds[j].UserID })
	sort.Strings(delta.Removes)
	if len(delta.PinChanges) == 0 {
		delta.PinChanges = nil
	}
	return delta
}

// UpdateRoomMembers reconciles a room's participant and pin state to
// the desired set under optimistic concurrency control. Each attempt
// reloads the aggregate, recomputes the delta against the fresh
// version, and applies it guarded by that version; a stale delta is
// never replayed. After the retry budget the conflict becomes terminal.
func (s *Service) UpdateRoomMembers(ctx context.Context, roomID string, desired []store.MemberSpec) error {
	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		room, err := s.rooms.GetRoom(ctx, roomID)
		if err != nil {
			if errors.Is(err, store.ErrRoomNotFound) {
				return domainError(KindValidation, "ROOM_NOT_FOUND", "room does not exist")
			}
			return mapInfra(err)
		}
		if room.RoomType == store.RoomTypeIndividual && len(desired) != 0 && len(desired) != 2 {
			return domainError(KindValidation, "BAD_PARTICIPANTS", "an individual room has exactly two participants")
		}

		current, err := s.rooms.ListMembers(ctx, roomID)
		if err != nil {
			return mapInfra(err)
		}

		delta := computeMembershipDelta(current, desired)
		if delta.Empty() {
			return nil
		}

		applied, err := s.rooms.ApplyMembershipDelta(ctx, roomID, room.Version, delta)
		if err != nil {
			return mapInfra(err)
		}
		if applied {
			if len(desired) == 0 {
				// Zero participants marks the room deletable.
				if _, err := s.rooms.DeleteRoomIfEmpty(ctx, roomID); err != nil {
					return mapInfra(err)
				}
			}
			return nil
		}

		s.logger.Debugw("membership version conflict", "room", roomID, "attempt", attempt)
		if attempt < s.retryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryBaseDelay * time.Duration(attempt)):
			}
		}
	}
	return domainError(KindConflictExhausted, "MEMBERSHIP_CONFLICT",
		"room membership kept changing; retry the operation")
}

// RoomUnreadCounts exposes the current per-member unread snapshot.
func (s *Service) RoomUnreadCounts(ctx context.Context, roomID string) (map[string]int, error) {
	counts, err := s.rooms.UnreadSnapshot(ctx, roomID)
	if err != nil {
		return nil, mapInfra(err)
	}
	return counts, nil
}
