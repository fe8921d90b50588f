// Package broadcast fans journaled changes out to the live listeners of
// one event. Nothing is replayed: a listener sees only entries published
// after it subscribed.
package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"racesync/internal/model"
)

const DefaultBuffer = 64

var errSlowListener = errors.New("listener buffer full")

type Hub struct {
	mu        sync.Mutex
	listeners map[int64]map[int64]*Listener
	buffer    int
	nextID    atomic.Int64
	log       *zerolog.Logger
}

func NewHub(buffer int, log *zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		listeners: make(map[int64]map[int64]*Listener),
		buffer:    buffer,
		log:       log,
	}
}

// Listener receives the entries of one event in publish order. Its channel
// is closed once the listener is closed or dropped for falling behind.
type Listener struct {
	id      int64
	eventID int64
	hub     *Hub
	ch      chan model.JournalEntry
	once    sync.Once
	err     error
}

func (l *Listener) ID() int64      { return l.id }
func (l *Listener) EventID() int64 { return l.eventID }

func (l *Listener) C() <-chan model.JournalEntry { return l.ch }

// Err tells why the channel was closed; nil after a regular Close.
func (l *Listener) Err() error {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()
	return l.err
}

func (l *Listener) Close() {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()
	l.hub.remove(l, nil)
}

func (h *Hub) Subscribe(eventID int64) *Listener {
	l := &Listener{
		id:      h.nextID.Add(1),
		eventID: eventID,
		hub:     h,
		ch:      make(chan model.JournalEntry, h.buffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.listeners[eventID]
	if !ok {
		set = make(map[int64]*Listener)
		h.listeners[eventID] = set
	}
	set[l.id] = l
	h.log.Debug().Int64("event_id", eventID).Int64("listener", l.id).Msg("listener subscribed")
	return l
}

// Publish never blocks: a listener with a full buffer is dropped and the
// others still get the entry.
func (h *Hub) Publish(eventID int64, entry model.JournalEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range h.listeners[eventID] {
		select {
		case l.ch <- entry:
		default:
			err := &model.TransportError{EventID: eventID, Err: errSlowListener}
			h.log.Warn().Err(err).Int64("listener", l.id).Int64("change_id", entry.ID).Msg("listener dropped")
			h.remove(l, err)
		}
	}
}

func (h *Hub) Subscribers(eventID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[eventID])
}

// remove must be called with h.mu held.
func (h *Hub) remove(l *Listener, err error) {
	l.once.Do(func() {
		l.err = err
		set := h.listeners[l.eventID]
		delete(set, l.id)
		if len(set) == 0 {
			delete(h.listeners, l.eventID)
		}
		close(l.ch)
		h.log.Debug().Int64("event_id", l.eventID).Int64("listener", l.id).Msg("listener removed")
	})
}
