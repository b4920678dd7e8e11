// Package app orchestrates the concurrency-sensitive chat workflows:
// message arrival, room membership reconciliation, the friend
// relationship state machine and reaction toggling.
package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"relay/api/internal/docstore"
	"relay/api/internal/event"
	"relay/api/internal/store"
)

// roomStore is the relational side of the room aggregate.
type roomStore interface {
	CreateRoom(ctx context.Context, room store.ChatRoom, members []store.MemberSpec) (store.ChatRoom, error)
	GetRoom(ctx context.Context, roomID string) (store.ChatRoom, error)
	ListMembers(ctx context.Context, roomID string) ([]store.RoomMember, error)
	ApplyMembershipDelta(ctx context.Context, roomID string, version int64, delta store.MembershipDelta) (bool, error)
	SetLastMessage(ctx context.Context, roomID, messageID, text string, at time.Time) error
	IncrementUnread(ctx context.Context, roomID string, userIDs []string) error
	UnreadSnapshot(ctx context.Context, roomID string) (map[string]int, error)
	MarkRead(ctx context.Context, roomID, userID, messageID string) error
	DeleteRoomIfEmpty(ctx context.Context, roomID string) (bool, error)
}

type friendStore interface {
	CreateFriendRequest(ctx context.Context, req store.FriendRequest) (store.FriendRequest, error)
	GetPendingRequest(ctx context.Context, senderID, receiverID string) (*store.FriendRequest, error)
	AcceptRequest(ctx context.Context, requestID string) (bool, error)
	SetRequestStatus(ctx context.Context, requestID, from, to string) (bool, error)
	AreFriends(ctx context.Context, userID, otherID string) (bool, error)
	RemoveFriendship(ctx context.Context, userID, otherID string) error
	ListFriends(ctx context.Context, userID string) ([]string, error)
}

type messageStore interface {
	InsertMessage(ctx context.Context, msg docstore.ChatMessage) error
	GetMessage(ctx context.Context, messageID string) (docstore.ChatMessage, error)
	UpdateMessageStatus(ctx context.Context, messageID, status string) error
	EditMessage(ctx context.Context, messageID, senderID, text string) error
	DeleteMessage(ctx context.Context, messageID, senderID string) error
	RemoveMessage(ctx context.Context, messageID string) error
	MarkMessageRead(ctx context.Context, messageID, userID string) error
	ListRoomMessages(ctx context.Context, roomID string, limit int64) ([]docstore.ChatMessage, error)
	GetReaction(ctx context.Context, messageID, userID string) (*docstore.Reaction, error)
	UpsertReaction(ctx context.Context, messageID, userID, reactionType string) (bool, error)
	RemoveReaction(ctx context.Context, messageID, userID string) (bool, error)
}

// lockRunner executes work inside a distributed critical section.
type lockRunner interface {
	WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error
}

type presenceReader interface {
	IsPresent(ctx context.Context, roomID, userID string) bool
}

type Service struct {
	logger   *zap.SugaredLogger
	rooms    roomStore
	friends  friendStore
	messages messageStore
	locker   lockRunner
	presence presenceReader
	bus      *event.Bus
	statuses *StatusBroker

	retryAttempts  int
	retryBaseDelay time.Duration
}

func New(logger *zap.SugaredLogger, rooms roomStore, friends friendStore, messages messageStore,
	locker lockRunner, presence presenceReader, bus *event.Bus) *Service {
	return &Service{
		logger:         logger,
		rooms:          rooms,
		friends:        friends,
		messages:       messages,
		locker:         locker,
		presence:       presence,
		bus:            bus,
		statuses:       NewStatusBroker(),
		retryAttempts:  3,
		retryBaseDelay: 100 * time.Millisecond,
	}
}

// ConfigureRetries overrides the optimistic write retry budget.
func (s *Service) ConfigureRetries(attempts int, baseDelay time.Duration) {
	if attempts > 0 {
		s.retryAttempts = attempts
	}
	if baseDelay > 0 {
		s.retryBaseDelay = baseDelay
	}
}

// Statuses exposes the per-submission message status stream.
func (s *Service) Statuses() *StatusBroker {
	return s.statuses
}
