package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBuffer = 64

// Hub is the in-process Broadcaster.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscription]struct{}
	buffer  int
	dropped atomic.Int64
}

type subscription struct {
	ch   chan Event
	once sync.Once
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{subs: make(map[string]map[*subscription]struct{}), buffer: buffer}
}

func (h *Hub) Subscribe(channel string) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*subscription]struct{})
	}
	h.subs[channel][sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			h.mu.Lock()
			delete(h.subs[channel], sub)
			if len(h.subs[channel]) == 0 {
				delete(h.subs, channel)
			}
			close(sub.ch)
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish never blocks; a subscriber with a full buffer misses the event.
func (h *Hub) Publish(_ context.Context, channel string, evt Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[channel] {
		select {
		case sub.ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Dropped counts events lost to slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Subscribers returns the number of live subscriptions on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

var _ Broadcaster = (*Hub)(nil)
