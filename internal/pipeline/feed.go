package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/fpang/media-bundler/internal/media"
)

// Event is one ledger change. When From equals To the event reports
// download progress rather than a transition.
type Event struct {
	BatchID  string       `json:"batchId"`
	Seq      int64        `json:"seq"`
	Index    int          `json:"index"`
	ItemID   string       `json:"itemId"`
	From     media.Status `json:"from"`
	To       media.Status `json:"to"`
	Progress int          `json:"progress"`
	Bytes    int64        `json:"bytes,omitempty"`
	Notes    []string     `json:"notes,omitempty"`
	Err      string       `json:"error,omitempty"`
	At       time.Time    `json:"at"`
}

// IsProgress reports whether e is a progress report, not a transition.
func (e Event) IsProgress() bool {
	return e.From == e.To
}

// Sink receives ledger events. Publish is called from the ledger goroutine
// and must not block.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish implements Sink.
func (f SinkFunc) Publish(e Event) { f(e) }

type discard struct{}

func (discard) Publish(Event) {}

// Feed is an unbounded in-memory event queue. Publish never blocks;
// readers poll with Since or block with Wait.
type Feed struct {
	mu     sync.Mutex
	events []Event
	closed bool
	notify chan struct{}
}

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{notify: make(chan struct{})}
}

// Publish implements Sink. Events published after Close are dropped.
func (f *Feed) Publish(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events = append(f.events, e)
	close(f.notify)
	f.notify = make(chan struct{})
}

// Close marks the feed complete and wakes every waiter.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.notify)
}

// Since returns the events with Seq greater than after, and whether the
// feed is closed.
func (f *Feed) Since(after int64) ([]Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinceLocked(after), f.closed
}

func (f *Feed) sinceLocked(after int64) []Event {
	// Seq is strictly increasing, so the first match starts the tail.
	for i, e := range f.events {
		if e.Seq > after {
			out := make([]Event, len(f.events)-i)
			copy(out, f.events[i:])
			return out
		}
	}
	return nil
}

// Wait blocks until events newer than after exist, the feed closes, or ctx
// is done. It returns what is available at that point.
func (f *Feed) Wait(ctx context.Context, after int64) ([]Event, bool, error) {
	for {
		f.mu.Lock()
		events, closed, notify := f.sinceLocked(after), f.closed, f.notify
		f.mu.Unlock()
		if len(events) > 0 || closed {
			return events, closed, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-notify:
		}
	}
}

// Len returns the number of events held.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}
