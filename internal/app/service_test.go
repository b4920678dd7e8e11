package app

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"relay/api/internal/dlock"
	"relay/api/internal/docstore"
	"relay/api/internal/event"
	"relay/api/internal/store"
)

// The in-memory fakes below mirror the atomicity the real stores
// provide: every method is a single atomic step (one SQL statement or
// transaction, one Mongo document write), including the guarded updates
// and unique constraints the consistency protocol leans on.

type memRooms struct {
	mu          sync.Mutex
	rooms       map[string]*store.ChatRoom
	byDirectKey map[string]string
	members     map[string]map[string]*store.RoomMember

	failSetLastMessage error
	failListMembers    error
	applyDeltaCalls    int
	conflictFirstN     int
}

func newMemRooms() *memRooms {
	return &memRooms{
		rooms:       make(map[string]*store.ChatRoom),
		byDirectKey: make(map[string]string),
		members:     make(map[string]map[string]*store.RoomMember),
	}
}

func (m *memRooms) CreateRoom(_ context.Context, room store.ChatRoom, members []store.MemberSpec) (store.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room.DirectKey != "" {
		if existingID, ok := m.byDirectKey[room.DirectKey]; ok {
			return *m.rooms[existingID], nil
		}
		m.byDirectKey[room.DirectKey] = room.ID
	}
	now := time.Now()
	room.CreatedAt = now
	room.LastActiveAt = now
	m.rooms[room.ID] = &room
	m.members[room.ID] = make(map[string]*store.RoomMember)
	for _, spec := range members {
		m.members[room.ID][spec.UserID] = &store.RoomMember{
			RoomID: room.ID, UserID: spec.UserID, Pinned: spec.Pinned, CreatedAt: now,
		}
	}
	return room, nil
}

func (m *memRooms) GetRoom(_ context.Context, roomID string) (store.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return store.ChatRoom{}, store.ErrRoomNotFound
	}
	return *room, nil
}

func (m *memRooms) ListMembers(_ context.Context, roomID string) ([]store.RoomMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failListMembers != nil {
		return nil, m.failListMembers
	}
	var out []store.RoomMember
	for _, member := range m.members[roomID] {
		out = append(out, *member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memRooms) ApplyMembershipDelta(_ context.Context, roomID string, version int64, delta store.MembershipDelta) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyDeltaCalls++
	room, ok := m.rooms[roomID]
	if !ok {
		return false, store.ErrRoomNotFound
	}
	if m.conflictFirstN >= m.applyDeltaCalls {
		// Simulate another writer touching the aggregate first.
		room.Version++
	}
	if room.Version != version {
		return false, nil
	}
	room.Version++
	for _, spec := range delta.Adds {
		m.members[roomID][spec.UserID] = &store.RoomMember{
			RoomID: roomID, UserID: spec.UserID, Pinned: spec.Pinned, CreatedAt: time.Now(),
		}
	}
	for _, userID := range delta.Removes {
		delete(m.members[roomID], userID)
	}
	for userID, pinned := range delta.PinChanges {
		if member, ok := m.members[roomID][userID]; ok {
			member.Pinned = pinned
		}
	}
	return true, nil
}

func (m *memRooms) SetLastMessage(_ context.Context, roomID, messageID, text string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSetLastMessage != nil {
		return m.failSetLastMessage
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return store.ErrRoomNotFound
	}
	room.LastMessageID = messageID
	room.LastMessageText = text
	room.LastActiveAt = at
	room.Version++
	return nil
}

func (m *memRooms) IncrementUnread(_ context.Context, roomID string, userIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, userID := range userIDs {
		if member, ok := m.members[roomID][userID]; ok {
			member.UnreadCount++
		}
	}
	return nil
}

func (m *memRooms) UnreadSnapshot(_ context.Context, roomID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for userID, member := range m.members[roomID] {
		counts[userID] = member.UnreadCount
	}
	return counts, nil
}

func (m *memRooms) MarkRead(_ context.Context, roomID, userID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if member, ok := m.members[roomID][userID]; ok {
		member.UnreadCount = 0
		member.LastReadMessageID = messageID
	}
	return nil
}

func (m *memRooms) DeleteRoomIfEmpty(_ context.Context, roomID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.members[roomID]) > 0 {
		return false, nil
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return false, nil
	}
	delete(m.byDirectKey, room.DirectKey)
	delete(m.rooms, roomID)
	delete(m.members, roomID)
	return true, nil
}

type memFriends struct {
	mu       sync.Mutex
	requests map[string]*store.FriendRequest
	friends  map[[2]string]bool
}

func newMemFriends() *memFriends {
	return &memFriends{
		requests: make(map[string]*store.FriendRequest),
		friends:  make(map[[2]string]bool),
	}
}

func (m *memFriends) CreateFriendRequest(_ context.Context, req store.FriendRequest) (store.FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// One pending request per unordered pair, mirroring the partial
	// unique index on pair_key.
	pair := store.PairKey(req.SenderID, req.ReceiverID)
	for _, existing := range m.requests {
		if existing.Status == store.RequestPending &&
			store.PairKey(existing.SenderID, existing.ReceiverID) == pair {
			return store.FriendRequest{}, store.ErrDuplicateRequest
		}
	}
	now := time.Now()
	req.Status = store.RequestPending
	req.CreatedAt = now
	req.UpdatedAt = now
	m.requests[req.ID] = &req
	return req, nil
}

func (m *memFriends) GetPendingRequest(_ context.Context, senderID, receiverID string) (*store.FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.requests {
		if req.SenderID == senderID && req.ReceiverID == receiverID && req.Status == store.RequestPending {
			copied := *req
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memFriends) AcceptRequest(_ context.Context, requestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok || req.Status != store.RequestPending {
		return false, nil
	}
	req.Status = store.RequestAccepted
	m.friends[[2]string{req.SenderID, req.ReceiverID}] = true
	m.friends[[2]string{req.ReceiverID, req.SenderID}] = true
	return true, nil
}

func (m *memFriends) SetRequestStatus(_ context.Context, requestID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok || req.Status != from {
		return false, nil
	}
	req.Status = to
	return true, nil
}

func (m *memFriends) AreFriends(_ context.Context, userID, otherID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.friends[[2]string{userID, otherID}], nil
}

func (m *memFriends) RemoveFriendship(_ context.Context, userID, otherID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.friends, [2]string{userID, otherID})
	delete(m.friends, [2]string{otherID, userID})
	return nil
}

func (m *memFriends) ListFriends(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for pair := range m.friends {
		if pair[0] == userID {
			out = append(out, pair[1])
		}
	}
	sort.Strings(out)
	return out, nil
}

type memDocs struct {
	mu        sync.Mutex
	messages  map[string]*docstore.ChatMessage
	reactions map[[2]string]*docstore.Reaction
}

func newMemDocs() *memDocs {
	return &memDocs{
		messages:  make(map[string]*docstore.ChatMessage),
		reactions: make(map[[2]string]*docstore.Reaction),
	}
}

func (m *memDocs) InsertMessage(_ context.Context, msg docstore.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = &msg
	return nil
}

func (m *memDocs) GetMessage(_ context.Context, messageID string) (docstore.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return docstore.ChatMessage{}, docstore.ErrMessageNotFound
	}
	return *msg, nil
}

func (m *memDocs) UpdateMessageStatus(_ context.Context, messageID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return docstore.ErrMessageNotFound
	}
	msg.Status = status
	return nil
}

func (m *memDocs) EditMessage(_ context.Context, messageID, senderID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.SenderID != senderID {
		return docstore.ErrMessageNotFound
	}
	switch {
	case msg.Deleted:
		return docstore.ErrMessageDeleted
	case msg.ContentType != docstore.ContentTypeText:
		return docstore.ErrNotTextMessage
	case time.Since(msg.CreatedAt) > docstore.EditWindow:
		return docstore.ErrEditWindowClosed
	}
	msg.Text = text
	msg.Edited = true
	return nil
}

func (m *memDocs) DeleteMessage(_ context.Context, messageID, senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.SenderID != senderID || msg.Deleted {
		return docstore.ErrMessageNotFound
	}
	msg.Deleted = true
	msg.Text = ""
	return nil
}

func (m *memDocs) RemoveMessage(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, messageID)
	return nil
}

func (m *memDocs) MarkMessageRead(_ context.Context, messageID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[messageID]; ok {
		if msg.ReadBy == nil {
			msg.ReadBy = make(map[string]bool)
		}
		msg.ReadBy[userID] = true
	}
	return nil
}

func (m *memDocs) ListRoomMessages(_ context.Context, roomID string, limit int64) ([]docstore.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []docstore.ChatMessage
	for _, msg := range m.messages {
		if msg.RoomID == roomID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memDocs) GetReaction(_ context.Context, messageID, userID string) (*docstore.Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reactions[[2]string{messageID, userID}]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

func (m *memDocs) UpsertReaction(_ context.Context, messageID, userID, reactionType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{messageID, userID}
	now := time.Now()
	if existing, ok := m.reactions[key]; ok {
		existing.Type = reactionType
		existing.UpdatedAt = now
		return false, nil
	}
	m.reactions[key] = &docstore.Reaction{
		MessageID: messageID, UserID: userID, Type: reactionType, CreatedAt: now, UpdatedAt: now,
	}
	return true, nil
}

func (m *memDocs) RemoveReaction(_ context.Context, messageID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{messageID, userID}
	if _, ok := m.reactions[key]; !ok {
		return false, nil
	}
	delete(m.reactions, key)
	return true, nil
}

func (m *memDocs) messageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

type stubPresence struct {
	mu      sync.Mutex
	present map[string]bool
}

func (p *stubPresence) IsPresent(_ context.Context, roomID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present[roomID+":"+userID]
}

func (p *stubPresence) set(roomID, userID string, present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.present == nil {
		p.present = make(map[string]bool)
	}
	p.present[roomID+":"+userID] = present
}

type testEnv struct {
	service  *Service
	rooms    *memRooms
	friends  *memFriends
	docs     *memDocs
	presence *stubPresence
	bus      *event.Bus
}

// newTestService wires the service against in-memory stores and a real
// miniredis-backed distributed lock.
func newTestService(t *testing.T) *testEnv {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	locker := dlock.NewLocker(dlock.NewClient(rdb), zap.NewNop().Sugar(), 5*time.Second, 5*time.Second)

	rooms := newMemRooms()
	friends := newMemFriends()
	docs := newMemDocs()
	presence := &stubPresence{}
	bus := event.NewBus()

	svc := New(zap.NewNop().Sugar(), rooms, friends, docs, locker, presence, bus)
	svc.retryBaseDelay = time.Millisecond

	return &testEnv{service: svc, rooms: rooms, friends: friends, docs: docs, presence: presence, bus: bus}
}
