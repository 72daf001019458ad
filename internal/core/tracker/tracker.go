// Package tracker owns the outbound seq counter, the last acknowledged seq
// and the intents the server has not acknowledged yet.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/zeusync/tablesync/internal/core/protocol"
)

// Pending is an outbound intent still waiting for an ack.
type Pending struct {
	Seq    protocol.Seq
	Intent protocol.Intent
	SentAt time.Time
}

// View is the read-only side of a Tracker.
type View interface {
	Current() protocol.Seq
	LastAck() protocol.Seq
	PendingCount() int
	Pending() []Pending
}

type Tracker struct {
	mu      sync.Mutex
	now     func() time.Time
	seq     protocol.Seq
	lastAck protocol.Seq
	pending map[protocol.Seq]Pending
}

var _ View = (*Tracker)(nil)

// New returns a tracker stamping pending intents with now. A nil now falls
// back to time.Now.
func New(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:     now,
		pending: make(map[protocol.Seq]Pending),
	}
}

// Next pre-increments and returns the next outbound seq, starting at 1.
func (t *Tracker) Next() protocol.Seq {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return t.seq
}

func (t *Tracker) Current() protocol.Seq {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

func (t *Tracker) LastAck() protocol.Seq {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastAck
}

// RecordAck advances lastAck when ack is newer and evicts every pending
// intent with seq <= ack. Stale or repeated acks are ignored; the return
// value reports whether anything changed.
func (t *Tracker) RecordAck(ack protocol.Seq) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ack <= t.lastAck {
		return false
	}
	t.lastAck = ack
	for seq := range t.pending {
		if seq <= ack {
			delete(t.pending, seq)
		}
	}
	return true
}

func (t *Tracker) Track(seq protocol.Seq, intent protocol.Intent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[seq] = Pending{Seq: seq, Intent: intent, SentAt: t.now()}
}

func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Pending returns a copy of the unacknowledged intents in seq order.
func (t *Tracker) Pending() []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Pending, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// DiscardPending drops every pending intent but keeps seq and ack.
func (t *Tracker) DiscardPending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.pending)
	clear(t.pending)
	return n
}

// Reset zeroes seq and ack and clears pending intents. Only for a brand new
// server session; seqs issued before a reset may be reissued after it.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq = 0
	t.lastAck = 0
	clear(t.pending)
}
