package protocol

import (
	"net/netip"
	"sync"
	"time"

	"github.com/google/netstack/tcpip/buffer"
	"github.com/google/netstack/tcpip/seqnum"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// State is the position of the engine in the connection lifecycle.
type State int

const (
	StateIdle    State = iota // no connection
	StateWaitSyn              // SYN sent, waiting for its ACK
	StateSending              // data sent, waiting for ACKs
	StateWait                 // SYN accepted, waiting for DATA or EOT
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWaitSyn:
		return "WAIT_SYN"
	case StateSending:
		return "SENDING"
	case StateWait:
		return "WAIT"
	default:
		return "UNKNOWN"
	}
}

type Role int

const (
	RoleNone Role = iota
	RoleSender
	RoleReceiver
)

func (s State) Role() Role {
	switch s {
	case StateWaitSyn, StateSending:
		return RoleSender
	case StateWait:
		return RoleReceiver
	default:
		return RoleNone
	}
}

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "none"
	}
}

// Outcome tells a finished transfer apart from an abandoned one.
type Outcome int

const (
	OutcomeCompleted Outcome = iota // EOT sent or received
	OutcomeAbandoned                // idle timeout
	OutcomeRefused                  // SYN never acknowledged
	OutcomeCancelled                // Reset while active
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAbandoned:
		return "abandoned"
	case OutcomeRefused:
		return "refused"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Transfer describes a connection that returned to idle. For a completed receive, Data holds
// every byte in order.
type Transfer struct {
	ID      uuid.UUID
	Role    Role
	Peer    netip.AddrPort
	Outcome Outcome
	Bytes   int
	Data    []byte
}

// Transport sends datagrams without waiting for any acknowledgement.
type Transport interface {
	SendTo(b []byte, to netip.AddrPort) error
}

// Engine runs one connection at a time, as either sender or receiver. Every exported method
// takes the engine lock for the whole transition, sends included.
type Engine struct {
	mu         sync.Mutex
	cfg        Config
	log        *zap.Logger
	transport  Transport
	now        func() time.Time
	onTransfer func(Transfer)

	state  State
	peer   netip.AddrPort
	id     uuid.UUID
	window *SlidingWindow
	timers *Timers

	expected      seqnum.Value
	received      []buffer.View
	receivedBytes int

	finished []Transfer
}

// Option customises an Engine at construction.
type Option func(*Engine)

// WithLogger replaces the default no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock replaces time.Now for the timers.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTransferFunc registers a callback invoked, outside the engine lock, each time a connection
// ends.
func WithTransferFunc(fn func(Transfer)) Option {
	return func(e *Engine) { e.onTransfer = fn }
}

// NewEngine returns an idle engine sending through transport. Zero config fields take their
// defaults; a packet size that leaves no room for payload is rejected.
func NewEngine(cfg Config, transport Transport, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg.withDefaults(),
		log:       zap.NewNop(),
		transport: transport,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.window = NewSlidingWindow(e.cfg.WindowSize, PayloadCapacity(e.cfg.PacketSize))
	e.timers = NewTimers(e.cfg.ReceiveTimeout, e.cfg.IdleTimeout, e.now)
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Peer() netip.AddrPort {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer
}

// StartSend buffers data and opens a connection to peer with a SYN. It fails without sending
// anything when a connection is already active or data cannot be buffered.
func (e *Engine) StartSend(data []byte, peer netip.AddrPort) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		e.log.Error("already sending", zap.Stringer("state", e.state), zap.Stringer("peer", e.peer))
		return uuid.Nil, errors.Wrapf(ErrBusy, "state %s", e.state)
	}
	peer = unmap(peer)
	if !peer.IsValid() || peer.Port() == 0 {
		return uuid.Nil, errors.Wrapf(ErrInvalidPeer, "%s", peer)
	}
	if err := e.window.Load(data); err != nil {
		e.log.Error("could not buffer transfer", zap.Error(err))
		return uuid.Nil, errors.Wrap(err, "buffering transfer")
	}

	e.peer = peer
	e.id = uuid.New()
	e.log.Info("sending transfer",
		zap.Stringer("transfer", e.id), zap.Stringer("peer", peer), zap.Int("bytes", len(data)))

	e.send(&Packet{Kind: KindSYN, WindowSize: e.cfg.WindowSize})
	e.timers.RestartReceiveTimer()
	e.timers.RestartIdleTimer()
	e.state = StateWaitSyn
	return e.id, nil
}

// HandleDatagram processes one inbound datagram. Nothing it rejects is fatal.
func (e *Engine) HandleDatagram(b []byte, from netip.AddrPort) {
	e.mu.Lock()
	e.handleDatagram(b, unmap(from))
	done := e.takeFinished()
	e.mu.Unlock()
	e.notify(done)
}

// Tick polls the timers. The idle timeout wins over the receive timeout.
func (e *Engine) Tick() {
	e.mu.Lock()
	e.tick()
	done := e.takeFinished()
	e.mu.Unlock()
	e.notify(done)
}

// Reset tears down the active connection, if any, and returns to idle.
func (e *Engine) Reset() {
	e.mu.Lock()
	if e.state != StateIdle {
		e.log.Info("resetting connection", zap.Stringer("transfer", e.id))
		e.teardown(OutcomeCancelled)
	} else {
		e.resetLocked()
	}
	done := e.takeFinished()
	e.mu.Unlock()
	e.notify(done)
}

func (e *Engine) tick() {
	if e.state == StateIdle {
		return
	}
	if e.timers.IdleTimedOut() {
		e.log.Error("idle timeout reached, abandoning connection",
			zap.Stringer("transfer", e.id), zap.Stringer("state", e.state), zap.Stringer("peer", e.peer))
		e.teardown(OutcomeAbandoned)
		return
	}
	if !e.timers.ReceiveTimedOut() {
		return
	}

	switch e.state {
	case StateWaitSyn:
		e.log.Error("no answer to SYN", zap.Stringer("transfer", e.id), zap.Stringer("peer", e.peer))
		e.teardown(OutcomeRefused)
	case StateSending:
		frames := e.window.PendingFrames()
		e.log.Info("receive timeout, resending pending frames",
			zap.Stringer("transfer", e.id), zap.Int("frames", len(frames)))
		e.sendFrames(frames)
		e.timers.RestartReceiveTimer()
	case StateWait:
		e.log.Info("receive timeout, repeating ACK", zap.Uint32("ack", uint32(e.expected)))
		e.sendAck(e.expected)
		e.timers.RestartReceiveTimer()
	}
}

// teardown records the end of the active connection and resets.
func (e *Engine) teardown(outcome Outcome) {
	t := Transfer{
		ID:      e.id,
		Role:    e.state.Role(),
		Peer:    e.peer,
		Outcome: outcome,
	}
	switch t.Role {
	case RoleSender:
		t.Bytes = int(e.window.Head())
	case RoleReceiver:
		t.Bytes = e.receivedBytes
		if outcome == OutcomeCompleted {
			vv := buffer.NewVectorisedView(e.receivedBytes, e.received)
			t.Data = []byte(vv.ToView())
		}
	}
	e.log.Info("connection closed",
		zap.Stringer("transfer", t.ID),
		zap.Stringer("role", t.Role),
		zap.Stringer("outcome", t.Outcome),
		zap.Int("bytes", t.Bytes))

	e.finished = append(e.finished, t)
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.state = StateIdle
	e.peer = netip.AddrPort{}
	e.id = uuid.Nil
	e.window.Reset()
	e.timers.Stop()
	e.expected = 0
	e.received = nil
	e.receivedBytes = 0
}

func (e *Engine) takeFinished() []Transfer {
	done := e.finished
	e.finished = nil
	return done
}

func (e *Engine) notify(done []Transfer) {
	if e.onTransfer == nil {
		return
	}
	for _, t := range done {
		e.onTransfer(t)
	}
}
