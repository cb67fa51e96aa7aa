package pipeline

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/download"
	"github.com/fpang/media-bundler/internal/media"
)

// record is the ledger's view of one item.
type record struct {
	status   media.Status
	outcome  media.Status
	progress int
	bytes    int64
	reason   string
	notes    []string
}

// ledger owns every item record of a batch. Only its run goroutine reads
// or writes records until done is closed.
type ledger struct {
	batchID string
	items   []media.Item
	records []record
	sink    Sink

	updates chan download.Update
	done    chan struct{}
	seq     int64
	now     func() time.Time
}

func newLedger(batchID string, items []media.Item, sink Sink) *ledger {
	if sink == nil {
		sink = discard{}
	}
	l := &ledger{
		batchID: batchID,
		items:   items,
		records: make([]record, len(items)),
		sink:    sink,
		updates: make(chan download.Update, 64),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	for i := range l.records {
		l.records[i] = record{status: media.StatusPending, outcome: media.StatusPending}
	}
	return l
}

func (l *ledger) start() {
	go l.run()
}

func (l *ledger) run() {
	defer close(l.done)
	for u := range l.updates {
		l.apply(u)
	}
}

// close stops intake and waits until every update has been applied.
func (l *ledger) close() []record {
	close(l.updates)
	<-l.done
	return l.records
}

func (l *ledger) apply(u download.Update) {
	if u.Index < 0 || u.Index >= len(l.records) {
		log.Warn().Str("batch", l.batchID).Int("index", u.Index).Msg("Update for unknown item dropped")
		return
	}
	rec := &l.records[u.Index]
	from := rec.status

	if u.Status == from {
		if from != media.StatusDownloading {
			return
		}
		rec.progress = u.Progress
		rec.bytes = u.Bytes
		l.publish(u, from)
		return
	}

	if !from.CanTransition(u.Status) {
		log.Warn().
			Str("batch", l.batchID).
			Str("item", l.items[u.Index].ID).
			Str("from", string(from)).
			Str("to", string(u.Status)).
			Msg("Illegal status transition dropped")
		return
	}

	rec.status = u.Status
	if u.Status != media.StatusFinalized {
		rec.outcome = u.Status
	}
	rec.progress = u.Progress
	if u.Bytes > 0 {
		rec.bytes = u.Bytes
	}
	if u.Err != nil {
		rec.reason = u.Err.Error()
	}
	rec.notes = append(rec.notes, u.Notes...)
	l.publish(u, from)
}

func (l *ledger) publish(u download.Update, from media.Status) {
	l.seq++
	e := Event{
		BatchID:  l.batchID,
		Seq:      l.seq,
		Index:    u.Index,
		ItemID:   l.items[u.Index].ID,
		From:     from,
		To:       u.Status,
		Progress: u.Progress,
		Bytes:    u.Bytes,
		Notes:    u.Notes,
		At:       l.now().UTC(),
	}
	if u.Err != nil {
		e.Err = u.Err.Error()
	}
	l.sink.Publish(e)
}
