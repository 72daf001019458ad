package replay

import (
	"errors"
	"sync"
	"time"

	"github.com/zeusync/tablesync/internal/core/clock"
	"github.com/zeusync/tablesync/internal/core/observability/log"
	"github.com/zeusync/tablesync/internal/core/protocol"
)

var ErrNothingLoaded = errors.New("no replay data loaded")

type State int

const (
	Stopped State = iota
	Playing
	Paused
	Finished
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

type RunnerConfig struct {
	Speed float64 `mapstructure:"speed" yaml:"speed"`
	Loop  bool    `mapstructure:"loop" yaml:"loop"`
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{Speed: 1}
}

// Sink receives what the runner plays back. Snapshot may be nil.
type Sink struct {
	Event    func(protocol.Event)
	Snapshot func(protocol.Snapshot) error
}

// Runner plays a Data back through a scheduler, honouring recorded offsets
// divided by the configured speed.
type Runner struct {
	sched  clock.Scheduler
	sink   Sink
	cfg    RunnerConfig
	logger log.Log

	mu        sync.Mutex
	data      *Data
	events    []protocol.Event
	offsets   []time.Duration
	state     State
	index     int
	position  time.Duration
	resumedAt time.Time
	task      clock.Task
}

func NewRunner(sched clock.Scheduler, sink Sink, cfg RunnerConfig, logger log.Log) *Runner {
	if cfg.Speed <= 0 {
		cfg.Speed = DefaultRunnerConfig().Speed
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Runner{
		sched:  sched,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With(log.String("component", "replay_runner")),
	}
}

// Load decodes every entry up front; a replay with an undecodable entry is
// rejected as a whole. Metadata problems are only logged.
func (r *Runner) Load(d Data) error {
	if err := d.Metadata.Validate(); err != nil {
		r.logger.Warn("Replay metadata validation failed", log.Error(err))
	}

	events := make([]protocol.Event, 0, len(d.Events))
	offsets := make([]time.Duration, 0, len(d.Events))
	for _, entry := range d.Events {
		event, err := entry.Event()
		if err != nil {
			return err
		}
		events = append(events, event)
		offsets = append(offsets, entry.Offset)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.data = &d
	r.events = events
	r.offsets = offsets

	r.logger.Info("Replay data loaded",
		log.String("room", d.RoomID),
		log.Int("events", len(events)),
		log.String("schema_version", d.SchemaVersion),
		log.String("game_version", d.GameVersion))
	return nil
}

// Play starts or resumes playback. Starting from Stopped or Finished first
// applies the initial state, if any.
func (r *Runner) Play() error {
	r.mu.Lock()
	if r.data == nil {
		r.mu.Unlock()
		r.logger.Warn("No replay data loaded")
		return ErrNothingLoaded
	}
	if r.state == Playing {
		r.mu.Unlock()
		return nil
	}

	var initial *InitialState
	if r.state == Stopped || r.state == Finished {
		r.index = 0
		r.position = 0
		initial = r.data.InitialState
	}
	r.state = Playing
	r.mu.Unlock()

	if initial != nil && r.sink.Snapshot != nil {
		if err := r.sink.Snapshot(initial.Snapshot()); err != nil {
			r.logger.Error("Failed to apply replay initial state", log.Error(err))
		}
	}

	r.mu.Lock()
	if r.state == Playing {
		r.scheduleLocked()
	}
	r.mu.Unlock()

	r.logger.Info("Replay started")
	return nil
}

func (r *Runner) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Playing {
		return
	}
	r.position = r.playheadLocked()
	r.cancelLocked()
	r.state = Paused
	r.logger.Info("Replay paused")
}

func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.logger.Info("Replay stopped")
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Progress is the fraction of events delivered, in [0, 1].
func (r *Runner) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		if r.state == Finished {
			return 1
		}
		return 0
	}
	return float64(r.index) / float64(len(r.events))
}

func (r *Runner) Metadata() (Metadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return Metadata{}, false
	}
	return r.data.Metadata, true
}

func (r *Runner) stopLocked() {
	r.cancelLocked()
	r.state = Stopped
	r.index = 0
	r.position = 0
}

func (r *Runner) cancelLocked() {
	if r.task != nil {
		r.task.Stop()
		r.task = nil
	}
}

// playheadLocked is the replay-time position, capped at the next event.
func (r *Runner) playheadLocked() time.Duration {
	elapsed := time.Duration(float64(r.sched.Now().Sub(r.resumedAt)) * r.cfg.Speed)
	pos := r.position + elapsed
	if r.index < len(r.offsets) && pos > r.offsets[r.index] {
		pos = r.offsets[r.index]
	}
	return pos
}

func (r *Runner) scheduleLocked() {
	if r.index >= len(r.events) {
		r.state = Finished
		r.logger.Info("Replay finished")
		return
	}

	wait := r.offsets[r.index] - r.position
	if wait < 0 {
		wait = 0
	}
	r.resumedAt = r.sched.Now()
	r.task = r.sched.AfterFunc(time.Duration(float64(wait)/r.cfg.Speed), r.fire)
}

func (r *Runner) fire() {
	r.mu.Lock()
	if r.state != Playing || r.index >= len(r.events) {
		r.mu.Unlock()
		return
	}
	r.task = nil
	event := r.events[r.index]
	r.position = r.offsets[r.index]
	r.index++
	r.mu.Unlock()

	if r.sink.Event != nil {
		r.sink.Event(event)
	}

	r.mu.Lock()
	if r.state != Playing {
		r.mu.Unlock()
		return
	}
	if initial, wrapped := r.wrapLocked(); wrapped && initial != nil && r.sink.Snapshot != nil {
		r.mu.Unlock()
		if err := r.sink.Snapshot(initial.Snapshot()); err != nil {
			r.logger.Error("Failed to apply replay initial state", log.Error(err))
		}
		r.mu.Lock()
		if r.state != Playing {
			r.mu.Unlock()
			return
		}
	}
	r.scheduleLocked()
	r.mu.Unlock()
}

// wrapLocked rewinds a looping replay after its last event. Each loop starts
// again from the initial state. A replay whose events all sit at offset zero
// never loops.
func (r *Runner) wrapLocked() (*InitialState, bool) {
	if !r.cfg.Loop || len(r.events) == 0 || r.index < len(r.events) || r.offsets[len(r.offsets)-1] <= 0 {
		return nil, false
	}
	r.index = 0
	r.position = 0
	r.logger.Debug("Replay looping")
	return r.data.InitialState, true
}
