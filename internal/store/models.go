package store

import "time"

const (
	RoomTypeIndividual = "INDIVIDUAL"
	RoomTypeGroup      = "GROUP"
)

const (
	RequestPending   = "PENDING"
	RequestAccepted  = "ACCEPTED"
	RequestRejected  = "REJECTED"
	RequestCancelled = "CANCELLED"
)

// ChatRoom is the root of the room aggregate. Version is bumped by
// every aggregate write and exists purely for conflict detection; it is
// never exposed outside the store/service boundary.
type ChatRoom struct {
	ID              string
	Title           string
	RoomType        string
	DirectKey       string
	LastMessageID   string
	LastMessageText string
	LastActiveAt    time.Time
	Version         int64
	CreatedAt       time.Time
}

// RoomMember is one row of the room aggregate, keyed room×user. Rows
// are created and removed only by membership reconciliation.
type RoomMember struct {
	RoomID            string
	UserID            string
	Pinned            bool
	LastReadMessageID string
	UnreadCount       int
	CreatedAt         time.Time
}

// MemberSpec describes the desired membership state for one user when
// reconciling a room's participant set.
type MemberSpec struct {
	UserID string
	Pinned bool
}

// MembershipDelta is the row-level difference between persisted
// membership and a desired participant set. It is only valid against
// the aggregate version it was computed from.
type MembershipDelta struct {
	Adds       []MemberSpec
	Removes    []string
	PinChanges map[string]bool
}

func (d MembershipDelta) Empty() bool {
	return len(d.Adds) == 0 && len(d.Removes) == 0 && len(d.PinChanges) == 0
}

type FriendRequest struct {
	ID         string
	SenderID   string
	ReceiverID string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
