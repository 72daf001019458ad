package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zeusync/tablesync/internal/core/clock"
	"github.com/zeusync/tablesync/internal/core/observability/log"
	"github.com/zeusync/tablesync/internal/core/protocol"
	"github.com/zeusync/tablesync/internal/core/tracker"
)

var _ Transport = (*Session)(nil)

var errSocketClosed = errors.New("socket closed")

// Deps are the collaborators of a Session. Zero fields get production
// defaults.
type Deps struct {
	Dialer    Dialer
	Scheduler clock.Scheduler
	Logger    log.Log
}

// Stats are cumulative frame counters.
type Stats struct {
	FramesIn     uint64
	FramesOut    uint64
	DecodeErrors uint64
	Reconnects   uint64
}

// Session owns one logical server session across any number of socket
// reconnects:
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Closed
//
// Closed is terminal, either through Disconnect or once reconnect attempts
// are exhausted (Err then returns ErrReconnectExhausted).
type Session struct {
	cfg     Config
	dialer  Dialer
	sched   clock.Scheduler
	logger  log.Log
	handler Handler
	seq     *tracker.Tracker

	listeners listeners

	// sendMu serialises seq stamping with socket writes so the wire order
	// matches seq order. Never acquired while mu is held.
	sendMu sync.Mutex

	mu         sync.Mutex
	state      State
	socket     Socket
	generation uint64
	attempts   int
	err        error
	heartbeat  clock.Task
	reconnect  clock.Task
	ctx        context.Context
	cancel     context.CancelFunc

	framesIn     atomic.Uint64
	framesOut    atomic.Uint64
	decodeErrors atomic.Uint64
	reconnects   atomic.Uint64
}

// NewSession creates a disconnected session delivering inbound traffic to h.
func NewSession(cfg Config, h Handler, deps Deps) *Session {
	cfg = cfg.withDefaults()
	if h == nil {
		h = nopHandler{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = clock.Wall{}
	}
	if deps.Logger == nil {
		deps.Logger = log.NewNop()
	}
	if deps.Dialer == nil {
		deps.Dialer = NewWebSocketDialer(cfg, deps.Logger)
	}

	return &Session{
		cfg:     cfg,
		dialer:  deps.Dialer,
		sched:   deps.Scheduler,
		logger:  deps.Logger.With(log.String("component", "session"), log.String("url", cfg.URL)),
		handler: h,
		seq:     tracker.New(deps.Scheduler.Now),
		state:   Disconnected,
	}
}

// Connect starts dialing. It returns immediately; Connected is reported
// through OnStateChange. Valid from Disconnected and Reconnecting.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case Connecting, Connected:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}

	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	from := s.state
	s.state = Connecting
	h := s.nextAttemptLocked()
	dialCtx := s.ctx
	s.mu.Unlock()

	s.logger.Info("Connecting to server")
	s.listeners.notify(from, Connecting)
	s.dialer.Dial(dialCtx, s.cfg.URL, h)
	return nil
}

// Disconnect closes the session for good. Every timer is stopped before it
// returns and late socket callbacks are ignored. Safe to call repeatedly.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	from := s.state
	s.state = Closed
	s.stopTimersLocked()
	s.generation++
	sock := s.socket
	s.socket = nil
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if sock != nil {
		err = sock.Close()
	}

	s.logger.Info("Disconnected from server")
	s.listeners.notify(from, Closed)
	return err
}

// SendIntent validates, stamps and writes intent. An invalid intent is
// returned as an error immediately. When the socket is not open the call is
// a logged no-op returning ErrNotConnected, and no seq is consumed.
func (s *Session) SendIntent(intent protocol.Intent) (protocol.Seq, error) {
	if err := protocol.ValidateIntent(intent); err != nil {
		return 0, err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	sock := s.openSocket()
	if sock == nil {
		s.logger.Warn("Cannot send intent: not connected",
			log.String("intent", string(intent.IntentType())),
			log.String("state", s.State().String()))
		return 0, ErrNotConnected
	}

	seq := s.seq.Next()
	s.seq.Track(seq, intent)
	env := protocol.NewIntentEnvelope(intent, seq, s.seq.LastAck())
	if err := s.writeLocked(sock, env); err != nil {
		return seq, err
	}

	s.logger.Debug("Sent intent",
		log.String("intent", string(intent.IntentType())),
		log.Uint64("seq", uint64(seq)))
	return seq, nil
}

// RequestSnapshot asks the server to resync by sending a heartbeat; the
// snapshot itself arrives later like any other inbound frame.
func (s *Session) RequestSnapshot() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	sock := s.openSocket()
	if sock == nil {
		s.logger.Warn("Cannot request snapshot: not connected")
		return ErrNotConnected
	}
	env := protocol.NewHeartbeatEnvelope(s.seq.Current(), s.seq.LastAck())
	if err := s.writeLocked(sock, env); err != nil {
		return err
	}
	s.logger.Debug("Requested snapshot")
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) OnStateChange(fn StateListener) func() {
	return s.listeners.add(fn)
}

func (s *Session) Sequence() tracker.View { return s.seq }

func (s *Session) DiscardPending() int { return s.seq.DiscardPending() }

func (s *Session) ResetSequence() { s.seq.Reset() }

// Attempts is the number of reconnects scheduled since the last open.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Session) Stats() Stats {
	return Stats{
		FramesIn:     s.framesIn.Load(),
		FramesOut:    s.framesOut.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		Reconnects:   s.reconnects.Load(),
	}
}

func (s *Session) nextAttemptLocked() *attempt {
	s.generation++
	return &attempt{session: s, generation: s.generation}
}

func (s *Session) stopTimersLocked() {
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

func (s *Session) openSocket() Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return nil
	}
	return s.socket
}

func (s *Session) current(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return generation == s.generation && s.state != Closed
}

// writeLocked encodes and writes env; sendMu must be held.
func (s *Session) writeLocked(sock Socket, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		s.logger.Error("Failed to encode envelope", log.String("type", env.TypeName()), log.Error(err))
		return err
	}
	if err = sock.Write(data); err != nil {
		s.logger.Warn("Failed to write frame", log.String("type", env.TypeName()), log.Error(err))
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	s.framesOut.Add(1)
	return nil
}

func (s *Session) opened(a *attempt, sock Socket) {
	s.mu.Lock()
	if a.generation != s.generation || s.state != Connecting {
		s.mu.Unlock()
		_ = sock.Close()
		return
	}
	from := s.state
	s.state = Connected
	s.socket = sock
	s.attempts = 0
	s.heartbeat = s.sched.Every(s.cfg.HeartbeatInterval, s.sendHeartbeat)
	s.mu.Unlock()

	s.logger.Info("Connected to server")
	s.listeners.notify(from, Connected)
}

func (s *Session) closed(a *attempt, cause error) {
	s.mu.Lock()
	if a.generation != s.generation || s.state == Closed {
		s.mu.Unlock()
		return
	}
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
	s.socket = nil
	from := s.state

	if s.attempts >= s.cfg.MaxReconnectAttempts {
		s.state = Closed
		s.err = ErrReconnectExhausted
		s.generation++
		cancel := s.cancel
		attempts := s.attempts
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.logger.Error("Reconnect attempts exhausted",
			log.Int("attempts", attempts),
			log.ErrorWithKey("cause", cause))
		s.listeners.notify(from, Closed)
		return
	}

	s.attempts++
	attempts := s.attempts
	s.state = Reconnecting
	s.reconnect = s.sched.AfterFunc(s.cfg.ReconnectInterval, s.redial)
	s.mu.Unlock()

	s.logger.Warn("Connection lost, scheduling reconnect",
		log.Int("attempt", attempts),
		log.Duration("after", s.cfg.ReconnectInterval),
		log.Error(fmt.Errorf("%w: %w", ErrTransport, causeOrUnknown(cause))))
	s.listeners.notify(from, Reconnecting)
}

func (s *Session) redial() {
	s.mu.Lock()
	if s.state != Reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnect = nil
	s.state = Connecting
	h := s.nextAttemptLocked()
	ctx := s.ctx
	s.mu.Unlock()

	s.reconnects.Add(1)
	s.listeners.notify(Reconnecting, Connecting)
	if ctx == nil {
		ctx = context.Background()
	}
	s.dialer.Dial(ctx, s.cfg.URL, h)
}

func (s *Session) sendHeartbeat() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	sock := s.openSocket()
	if sock == nil {
		return
	}
	_ = s.writeLocked(sock, protocol.NewHeartbeatEnvelope(s.seq.Current(), s.seq.LastAck()))
}

func (s *Session) replyAck() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	sock := s.openSocket()
	if sock == nil {
		return
	}
	_ = s.writeLocked(sock, protocol.NewAckEnvelope(s.seq.LastAck()))
}

func (s *Session) receive(data []byte) {
	s.framesIn.Add(1)

	env, err := protocol.Decode(data)
	if err != nil {
		s.decodeErrors.Add(1)
		s.logger.Warn("Dropping malformed frame", log.Error(err))
		return
	}

	if s.seq.RecordAck(env.Ack) {
		s.logger.Debug("Ack advanced", log.Uint64("ack", uint64(env.Ack)))
	}

	switch env.Kind {
	case protocol.KindEvent:
		s.handler.HandleEvent(env.Seq, env.Event)
	case protocol.KindSnapshot:
		s.handler.HandleSnapshot(env.Seq, *env.Snapshot)
	case protocol.KindHeartbeat:
		s.replyAck()
	case protocol.KindAck:
	case protocol.KindIntent:
		s.logger.Debug("Ignoring intent frame from server", log.Uint64("seq", uint64(env.Seq)))
	}
}

// attempt binds socket callbacks to the dial that produced them so that
// callbacks from superseded sockets are dropped.
type attempt struct {
	session    *Session
	generation uint64
}

func (a *attempt) OnOpen(sock Socket) { a.session.opened(a, sock) }

func (a *attempt) OnMessage(data []byte) {
	if !a.session.current(a.generation) {
		return
	}
	a.session.receive(data)
}

func (a *attempt) OnClose(err error) { a.session.closed(a, err) }

func causeOrUnknown(err error) error {
	if err == nil {
		return errSocketClosed
	}
	return err
}
