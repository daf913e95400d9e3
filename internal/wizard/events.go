// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wizard

import (
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// Event Bus
// =============================================================================

// SessionBroadcast is the session identifier that reaches every
// subscriber regardless of their own session.
const SessionBroadcast = "*"

// EventBus fans progress events out to connected observers.
//
// # Description
//
// Delivery is best-effort with no replay buffer: a subscriber whose
// channel is full simply misses the event, and a newly connected
// observer catches up by querying installation state and the task
// table. Subscriptions are scoped by session identifier so concurrent
// sessions (multiple browser tabs) do not observe each other's install
// events; publishing to SessionBroadcast reaches everyone.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Publish never blocks.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

type subscription struct {
	id      string
	session string
	ch      chan Event
}

// Subscription is a live event feed for one observer.
type Subscription struct {
	// ID uniquely identifies this subscription.
	ID string

	// Session is the session this subscription is scoped to.
	Session string

	// Events receives published events. Closed by Unsubscribe.
	Events <-chan Event

	bus *EventBus
}

// subscriberBuffer is the per-subscriber channel depth. Installs emit
// at most a few events per second, so a small buffer absorbs normal
// jitter; a stuck observer drops events rather than stalling the
// pipeline.
const subscriberBuffer = 64

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[string]*subscription),
	}
}

// Subscribe registers an observer for the given session.
//
// Events published to that session or to SessionBroadcast are delivered
// to the returned subscription until Unsubscribe is called.
func (b *EventBus) Subscribe(session string) *Subscription {
	sub := &subscription{
		id:      uuid.New().String(),
		session: session,
		ch:      make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return &Subscription{
		ID:      sub.id,
		Session: session,
		Events:  sub.ch,
		bus:     b,
	}
}

// Unsubscribe removes the subscription and closes its channel.
// Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if sub, ok := s.bus.subs[s.ID]; ok {
		delete(s.bus.subs, s.ID)
		close(sub.ch)
	}
}

// Publish delivers an event to every subscriber of the session.
//
// Delivery is non-blocking: subscribers with a full channel miss the
// event. Events published from a single goroutine arrive at each
// subscriber in publish order; there is no cross-subscriber ordering
// guarantee.
func (b *EventBus) Publish(session string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if session != SessionBroadcast && sub.session != session && sub.session != SessionBroadcast {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Observer is not keeping up; drop rather than block.
		}
	}
}

// SubscriberCount returns the number of live subscriptions, for
// observability.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
