// Package room bridges the network client to a room's entity world: server
// events are queued into the world, snapshots rebuild it, and a projection
// of the table is published after every tick.
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/zeusync/tablesync/internal/client"
	"github.com/zeusync/tablesync/internal/core/observability/log"
	"github.com/zeusync/tablesync/internal/core/protocol"
	"github.com/zeusync/tablesync/internal/core/world"
)

var ErrNotAttached = errors.New("room is not attached to a network client")

// Network is the part of the network client a room needs.
type Network interface {
	SendIntent(intent protocol.Intent) (protocol.Seq, error)
	Subscribe(eventType protocol.EventType, handler client.EventHandler) func()
	SetSnapshotStrategy(strategy client.SnapshotApplier)
}

// Recorder receives every event and snapshot the room consumes.
type Recorder interface {
	RecordEvent(event protocol.Event)
	RecordSnapshot(snapshot protocol.Snapshot)
}

// BridgedEvents are forwarded from the network into the world.
var BridgedEvents = []protocol.EventType{
	protocol.EventTilePlayed,
	protocol.EventTurnChanged,
	protocol.EventGameStarted,
	protocol.EventGameEnded,
}

type Option func(*Service)

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock sets the time source for turn and table timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithInitialState seeds the world instead of DefaultState.
func WithInitialState(state State) Option {
	return func(s *Service) { s.initial = state }
}

// Service owns one room world. All world access is serialised through mu,
// so network callbacks and the tick driver may run on different goroutines.
type Service struct {
	logger   log.Log
	now      func() time.Time
	recorder Recorder
	initial  State

	mu          sync.Mutex
	world       *world.World
	network     Network
	unsubscribe []func()

	viewMu sync.RWMutex
	view   View
}

var _ client.SnapshotApplier = (*Service)(nil)

func NewService(logger log.Log, opts ...Option) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Service{
		logger:  logger.With(log.String("component", "room")),
		now:     time.Now,
		initial: DefaultState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.world = world.New(logger)
	s.rebuild(s.initial)
	s.publish(Project(s.world))
	return s
}

// Attach registers the service as the snapshot strategy of n and bridges
// room events into the world. The returned func undoes the subscriptions.
func (s *Service) Attach(n Network) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detachLocked()
	s.network = n
	n.SetSnapshotStrategy(s)
	for _, et := range BridgedEvents {
		s.unsubscribe = append(s.unsubscribe, n.Subscribe(et, s.HandleEvent))
	}
	s.logger.Info("Attached to network client")

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.network == n {
			s.detachLocked()
		}
	}
}

// HandleEvent queues event for the next tick's ServerEvents phase.
func (s *Service) HandleEvent(event protocol.Event) {
	s.mu.Lock()
	s.world.AddServerEvent(event)
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.RecordEvent(event)
	}
	s.logger.Debug("Queued server event", log.String("type", string(event.EventType())))
}

// Apply replaces the world with snapshot's state. The state is decoded and
// validated first; on error the world is left untouched.
func (s *Service) Apply(snapshot protocol.Snapshot) error {
	state, err := DecodeState(snapshot.State)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.rebuild(state)
	view := Project(s.world)
	s.mu.Unlock()

	s.publish(view)
	if s.recorder != nil {
		s.recorder.RecordSnapshot(snapshot)
	}
	s.logger.Info("Applied snapshot",
		log.Uint64("seq", uint64(snapshot.Seq)),
		log.String("room", state.RoomID),
		log.Int("players", len(state.Players)))
	return nil
}

// PlayTile sends a PLAY_TILE intent; the table only changes once the server
// answers with TILE_PLAYED.
func (s *Service) PlayTile(tileID string) (protocol.Seq, error) {
	s.mu.Lock()
	n := s.network
	s.mu.Unlock()
	if n == nil {
		s.logger.Warn("Cannot send intent: network client not attached")
		return 0, ErrNotAttached
	}
	return n.SendIntent(protocol.PlayTile{TileID: tileID})
}

// Update advances the world by dt seconds.
func (s *Service) Update(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.world.Update(dt)
}

func (s *Service) CurrentTurnPlayer() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, turn, ok := single[*Turn](s.world, TypeTurn)
	if !ok || turn.CurrentPlayerID == "" {
		return "", false
	}
	return turn.CurrentPlayerID, true
}

// Hand returns a copy of the tiles held by playerID.
func (s *Service) Hand(playerID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range players(s.world) {
		if p.PlayerID == playerID {
			return append([]string(nil), p.Tiles...)
		}
	}
	return nil
}

func (s *Service) TableTiles() []TablePlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, table, ok := single[*Table](s.world, TypeTable)
	if !ok {
		return nil
	}
	return append([]TablePlay(nil), table.Tiles...)
}

// View is the projection published by the last tick or snapshot.
func (s *Service) View() View {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.view
}

// EntityCount is exposed for diagnostics.
func (s *Service) EntityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world.EntityCount()
}

// Close detaches from the network and empties the world.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
	s.world.Clear()
}

func (s *Service) detachLocked() {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.unsubscribe = nil
	if s.network != nil {
		s.network.SetSnapshotStrategy(nil)
		s.network = nil
	}
}

// rebuild tears the world down and recreates systems and entities from
// state. mu must be held or the service not yet shared.
func (s *Service) rebuild(state State) {
	s.world.Clear()
	s.world.AddSystem(NewServerEventSystem(s.now, s.logger))
	s.world.AddSystem(GameStateSystem{})
	s.world.AddSystem(PlayerSystem{})
	s.world.AddSystem(TileSystem{})
	s.world.AddSystem(AnimationSystem{})
	s.world.AddSystem(NewUIProjectionSystem(s.publish))
	populate(s.world, state, s.now)
}

func (s *Service) publish(v View) {
	s.viewMu.Lock()
	s.view = v
	s.viewMu.Unlock()
}
