// Package notify fans progress events out to room subscribers and translates
// crawler webhooks into progress.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/raphaelgruber/contextbase/internal/models"
)

const defaultBuffer = 64

// DropRecorder is told how many events a Publish dropped.
type DropRecorder interface {
	RecordDropped(n int)
}

// Hub delivers events to every subscriber of a room. Delivery is best
// effort: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Subscription]struct{}
	buffer int
	closed bool

	dropped atomic.Int64
	drops   DropRecorder
	logger  *slog.Logger
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, drops DropRecorder, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		drops:  drops,
		logger: logger,
	}
}

// Subscription receives a room's events until closed.
type Subscription struct {
	room   string
	events chan models.ProgressEvent
	hub    *Hub
	once   sync.Once
}

// Events is closed when the subscription or the hub closes.
func (s *Subscription) Events() <-chan models.ProgressEvent { return s.events }

func (s *Subscription) Room() string { return s.room }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Subscribe joins room. On a closed hub the returned subscription's channel
// is already closed.
func (h *Hub) Subscribe(room string) *Subscription {
	sub := &Subscription{room: room, events: make(chan models.ProgressEvent, h.buffer), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.once.Do(func() { close(sub.events) })
		return sub
	}
	subs, ok := h.rooms[room]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.rooms[room] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.rooms[s.room]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.rooms, s.room)
		}
	}
	s.once.Do(func() { close(s.events) })
}

// Publish sends ev to the room's current subscribers without blocking and
// returns how many received it.
func (h *Hub) Publish(room string, ev models.ProgressEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered, dropped := 0, 0
	for sub := range h.rooms[room] {
		select {
		case sub.events <- ev:
			delivered++
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.dropped.Add(int64(dropped))
		if h.drops != nil {
			h.drops.RecordDropped(dropped)
		}
		h.logger.Warn("progress events dropped", "room", room, "item", ev.ItemID, "dropped", dropped)
	}
	return delivered
}

// Dropped returns the total number of dropped deliveries.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Subscribers returns the number of subscribers in room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close ends every subscription. Later publishes reach nobody.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for room, subs := range h.rooms {
		for sub := range subs {
			sub.once.Do(func() { close(sub.events) })
		}
		delete(h.rooms, room)
	}
}
