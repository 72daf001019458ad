package transport

import (
	"context"
	"sync"
	"time"

	"github.com/zeusync/tablesync/internal/core/clock"
	"github.com/zeusync/tablesync/internal/core/observability/log"
	"github.com/zeusync/tablesync/internal/core/protocol"
	"github.com/zeusync/tablesync/internal/core/tracker"
)

var _ Transport = (*Scripted)(nil)

// ScriptStep produces one event Delay after the previous step of the same
// intent (or after the send for the first step).
type ScriptStep struct {
	Delay   time.Duration
	Respond func(intent protocol.Intent) protocol.Event
}

// Script maps an intent type to the events a fake server answers with.
// Intent types without steps are accepted and left unanswered.
type Script map[protocol.IntentType][]ScriptStep

// DefaultScript answers PLAY_TILE with TILE_PLAYED from player_1 and then
// TURN_CHANGED to player index 1, and FETCH_ROOM_LIST with two waiting rooms.
func DefaultScript() Script {
	return Script{
		protocol.IntentPlayTile: {
			{
				Delay: 200 * time.Millisecond,
				Respond: func(intent protocol.Intent) protocol.Event {
					tile, _ := intent.(protocol.PlayTile)
					return protocol.TilePlayed{PlayerID: "player_1", TileID: tile.TileID}
				},
			},
			{
				Delay: 100 * time.Millisecond,
				Respond: func(protocol.Intent) protocol.Event {
					return protocol.TurnChanged{PlayerIndex: 1}
				},
			},
		},
		protocol.IntentFetchRoomList: {
			{
				Delay: 300 * time.Millisecond,
				Respond: func(protocol.Intent) protocol.Event {
					return protocol.RoomListUpdated{Rooms: []protocol.RoomInfo{
						{ID: "room_001", Name: "Room 1", Players: 2, MaxPlayers: 4, Status: "waiting"},
						{ID: "room_002", Name: "Room 2", Players: 3, MaxPlayers: 4, Status: "waiting"},
					}}
				},
			},
		},
	}
}

// Scripted is an in-process Transport that never touches the network. It
// connects immediately and answers intents from a Script through the
// scheduler, acknowledging each intent as its answer is delivered.
type Scripted struct {
	script  Script
	sched   clock.Scheduler
	logger  log.Log
	handler Handler
	seq     *tracker.Tracker

	listeners listeners

	mu       sync.Mutex
	state    State
	eventSeq protocol.Seq
	nextTask uint64
	tasks    map[uint64]clock.Task
}

// NewScripted builds a Scripted transport. A nil script means DefaultScript;
// deps.Dialer is unused.
func NewScripted(script Script, h Handler, deps Deps) *Scripted {
	if script == nil {
		script = DefaultScript()
	}
	if h == nil {
		h = nopHandler{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = clock.Wall{}
	}
	if deps.Logger == nil {
		deps.Logger = log.NewNop()
	}
	return &Scripted{
		script:  script,
		sched:   deps.Scheduler,
		logger:  deps.Logger.With(log.String("component", "scripted")),
		handler: h,
		seq:     tracker.New(deps.Scheduler.Now),
		state:   Disconnected,
		tasks:   make(map[uint64]clock.Task),
	}
}

func (s *Scripted) Connect(context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case Connecting, Connected:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	from := s.state
	s.state = Connected
	s.mu.Unlock()

	s.logger.Info("Scripted transport connected")
	s.listeners.notify(from, Connecting)
	s.listeners.notify(Connecting, Connected)
	return nil
}

func (s *Scripted) Disconnect() error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	from := s.state
	s.state = Closed
	for id, task := range s.tasks {
		task.Stop()
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	s.logger.Info("Scripted transport closed")
	s.listeners.notify(from, Closed)
	return nil
}

func (s *Scripted) SendIntent(intent protocol.Intent) (protocol.Seq, error) {
	if err := protocol.ValidateIntent(intent); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		s.logger.Warn("Cannot send intent: not connected",
			log.String("intent", string(intent.IntentType())),
			log.String("state", s.state.String()))
		return 0, ErrNotConnected
	}

	seq := s.seq.Next()
	s.seq.Track(seq, intent)
	s.logger.Debug("Scripted intent",
		log.String("intent", string(intent.IntentType())),
		log.Uint64("seq", uint64(seq)))

	var delay time.Duration
	for _, step := range s.script[intent.IntentType()] {
		delay += step.Delay
		s.scheduleLocked(delay, seq, intent, step)
	}
	return seq, nil
}

// RequestSnapshot is accepted while connected; the script has no state to
// snapshot so nothing is delivered.
func (s *Scripted) RequestSnapshot() error {
	if s.State() != Connected {
		return ErrNotConnected
	}
	s.logger.Debug("Scripted transport ignores snapshot request")
	return nil
}

func (s *Scripted) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scripted) Err() error { return nil }

func (s *Scripted) OnStateChange(fn StateListener) func() {
	return s.listeners.add(fn)
}

func (s *Scripted) Sequence() tracker.View { return s.seq }

func (s *Scripted) DiscardPending() int { return s.seq.DiscardPending() }

func (s *Scripted) ResetSequence() {
	s.seq.Reset()
	s.mu.Lock()
	s.eventSeq = 0
	s.mu.Unlock()
}

func (s *Scripted) scheduleLocked(delay time.Duration, ack protocol.Seq, intent protocol.Intent, step ScriptStep) {
	s.nextTask++
	id := s.nextTask
	s.tasks[id] = s.sched.AfterFunc(delay, func() {
		s.mu.Lock()
		if _, ok := s.tasks[id]; !ok || s.state != Connected {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, id)
		s.eventSeq++
		eventSeq := s.eventSeq
		s.mu.Unlock()

		s.seq.RecordAck(ack)
		s.handler.HandleEvent(eventSeq, step.Respond(intent))
	})
}
