package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	SignalCreated Type = "signal.created"
	SignalEdited  Type = "signal.edited"
	SignalDeleted Type = "signal.deleted"
)

// Event describes a change to a stored signal. Text is the new text for
// edits and the original text for creations.
type Event struct {
	Type      Type      `json:"type"`
	SignalID  uint64    `json:"signal_id"`
	ChannelID int64     `json:"channel_id"`
	MessageID int64     `json:"message_id"`
	Symbol    string    `json:"symbol,omitempty"`
	Side      string    `json:"side,omitempty"`
	Text      string    `json:"text,omitempty"`
	At        time.Time `json:"at"`
}

// Sink receives every published event after in-process fanout.
type Sink interface {
	Publish(evt Event) error
}

type Publisher interface {
	Publish(evt Event)
}

// Hub fans events out to subscribers without blocking the publisher. Slow
// subscribers lose events; losses are counted.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	sinks  []Sink

	logger *zap.Logger

	published   uint64
	dropped     uint64
	sinkFailure uint64
}

func NewHub(logger *zap.Logger, sinks ...Sink) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		subs:   map[uint64]chan Event{},
		logger: logger.With(zap.String("component", "events")),
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	return h
}

// Subscribe returns a buffered channel of events and a function that
// unsubscribes and closes it.
func (h *Hub) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	atomic.AddUint64(&h.published, 1)

	h.mu.RLock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			atomic.AddUint64(&h.dropped, 1)
		}
	}
	h.mu.RUnlock()

	for _, s := range h.sinks {
		if err := s.Publish(evt); err != nil {
			atomic.AddUint64(&h.sinkFailure, 1)
			h.logger.Warn("event sink publish failed", zap.String("type", string(evt.Type)), zap.Error(err))
		}
	}
}

type Stats struct {
	Subscribers  int    `json:"subscribers"`
	Published    uint64 `json:"published"`
	Dropped      uint64 `json:"dropped"`
	SinkFailures uint64 `json:"sink_failures"`
}

func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return Stats{
		Subscribers:  n,
		Published:    atomic.LoadUint64(&h.published),
		Dropped:      atomic.LoadUint64(&h.dropped),
		SinkFailures: atomic.LoadUint64(&h.sinkFailure),
	}
}
