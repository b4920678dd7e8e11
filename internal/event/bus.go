// Package event carries the domain events the consistency core emits
// for realtime fan-out. The bus is in-process; the websocket layer
// subscribes and forwards.
package event

import (
	"sync"
)

// UnreadCountsChanged is published after a message lands in a room,
// carrying the full per-participant counter snapshot.
type UnreadCountsChanged struct {
	RoomID          string
	UnreadByUser    map[string]int
	LastMessageText string
}

// FriendAdded is published twice per accepted friend request, once per
// participant.
type FriendAdded struct {
	UserID   string
	FriendID string
}

// Bus fans events out to subscribers. Publishing never blocks the
// domain workflows: a subscriber with a full buffer misses the event.
type Bus struct {
	mu         sync.RWMutex
	unreadSubs []chan UnreadCountsChanged
	friendSubs []chan FriendAdded
	bufferSize int
}

func NewBus() *Bus {
	return &Bus{bufferSize: 64}
}

func (b *Bus) SubscribeUnread() <-chan UnreadCountsChanged {
	ch := make(chan UnreadCountsChanged, b.bufferSize)
	b.mu.Lock()
	b.unreadSubs = append(b.unreadSubs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) SubscribeFriendAdded() <-chan FriendAdded {
	ch := make(chan FriendAdded, b.bufferSize)
	b.mu.Lock()
	b.friendSubs = append(b.friendSubs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) PublishUnread(ev UnreadCountsChanged) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.unreadSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Bus) PublishFriendAdded(ev FriendAdded) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.friendSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}
