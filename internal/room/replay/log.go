// Package replay records the events a room consumes and plays them back
// against a scheduler.
package replay

import (
	"sync"
	"time"

	"github.com/zeusync/tablesync/internal/core/observability/log"
	"github.com/zeusync/tablesync/internal/core/protocol"
)

// Log is an in-memory recording of one room. It is safe for concurrent use.
type Log struct {
	roomID string
	now    func() time.Time
	logger log.Log

	mu      sync.Mutex
	started time.Time
	initial *InitialState
	entries []Entry
}

func NewLog(roomID string, now func() time.Time, logger log.Log) *Log {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.NewNop()
	}
	l := &Log{
		roomID:  roomID,
		now:     now,
		logger:  logger.With(log.String("component", "replay_log"), log.String("room", roomID)),
		started: now(),
	}
	l.logger.Info("Replay log created")
	return l
}

// RecordEvent appends event at its offset from the start of the log.
func (l *Log) RecordEvent(event protocol.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := newEntry(l.now().Sub(l.started), event)
	if err != nil {
		l.logger.Warn("Cannot record event", log.String("type", string(event.EventType())), log.Error(err))
		return
	}
	l.entries = append(l.entries, entry)
	l.logger.Debug("Event recorded", log.String("type", entry.Type), log.Int("total", len(l.entries)))
}

// RecordSnapshot keeps snapshot as the replay's initial state.
func (l *Log) RecordSnapshot(snapshot protocol.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initial = &InitialState{Seq: snapshot.Seq, State: string(snapshot.State)}
	l.logger.Debug("Snapshot recorded", log.Uint64("seq", uint64(snapshot.Seq)))
}

func (l *Log) Data() Data {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := Data{
		Metadata: Metadata{
			SchemaVersion: SchemaVersion,
			GameVersion:   GameVersion,
			BuildHash:     BuildHash(),
			CreatedAt:     l.started,
		},
		RoomID: l.roomID,
		Events: append([]Entry(nil), l.entries...),
	}
	if l.initial != nil {
		initial := *l.initial
		d.InitialState = &initial
	}
	return d
}

// Recent returns up to n of the newest entries, oldest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 {
		return nil
	}
	if n > len(l.entries) {
		n = len(l.entries)
	}
	return append([]Entry(nil), l.entries[len(l.entries)-n:]...)
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.initial = nil
	l.logger.Info("Replay log cleared")
}
