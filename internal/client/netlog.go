package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/zeusync/tablesync/internal/core/protocol"
	"github.com/zeusync/tablesync/pkg/sequence"
)

type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// Record is one diagnostic entry of the network log. Digest is the xxhash
// of the JSON payload so identical payloads are easy to spot.
type Record struct {
	ID        uuid.UUID
	Time      time.Time
	Direction Direction
	Kind      protocol.Kind
	Type      string
	Seq       protocol.Seq
	Digest    uint64
}

type netLog struct {
	mu   sync.Mutex
	ring *sequence.Ring[Record]
}

func newNetLog(capacity int) *netLog {
	if capacity <= 0 {
		capacity = DefaultConfig().LogCapacity
	}
	return &netLog{ring: sequence.NewRing[Record](capacity)}
}

func (l *netLog) add(at time.Time, dir Direction, kind protocol.Kind, typ string, seq protocol.Seq, payload any) Record {
	rec := Record{
		ID:        uuid.New(),
		Time:      at,
		Direction: dir,
		Kind:      kind,
		Type:      typ,
		Seq:       seq,
		Digest:    digest(payload),
	}
	l.mu.Lock()
	l.ring.Push(rec)
	l.mu.Unlock()
	return rec
}

func (l *netLog) last(n int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ring.Last(n)
}

func digest(payload any) uint64 {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}
