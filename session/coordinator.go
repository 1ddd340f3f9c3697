// Package session coordinates cancellation for in-flight sanitization
// requests. Each external origin (a tab, window, or caller-chosen
// context id) has at most one active session; starting a new request
// for an origin cancels the previous one.
//
// Information Hiding:
// - Session registry keyed by origin
// - Heartbeat rendezvous for the connect-before-begin race
// - Watchdog timer management

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds coordinator tuning.
type Config struct {
	// HeartbeatTimeout is how long a session with a connected
	// heartbeat may go without a beat before it is cancelled.
	HeartbeatTimeout time.Duration
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout: 15 * time.Second,
	}
}

// Session is one in-flight sanitization request bound to an origin.
// It owns a cancellation signal; every suspension point in the request
// observes it through Context.
type Session struct {
	id     string
	origin string
	ctx    context.Context
	cancel context.CancelFunc
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// Origin returns the external context this session belongs to.
func (s *Session) Origin() string { return s.origin }

// Context returns the session's cancellation context. Pass it to every
// operation run on behalf of the session.
func (s *Session) Context() context.Context { return s.ctx }

// Coordinator owns the session and pending-heartbeat registries. No
// other component mutates them. Safe for concurrent use.
type Coordinator struct {
	heartbeatTimeout time.Duration

	mu      sync.Mutex
	active  map[string]*Session
	pending map[string]*Heartbeat
}

// NewCoordinator creates a coordinator. A zero HeartbeatTimeout falls
// back to the default.
func NewCoordinator(config Config) *Coordinator {
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = DefaultConfig().HeartbeatTimeout
	}
	return &Coordinator{
		heartbeatTimeout: config.HeartbeatTimeout,
		active:           make(map[string]*Session),
		pending:          make(map[string]*Heartbeat),
	}
}

// Begin starts a session for origin, cancelling any session already
// active for it. A heartbeat parked by Connect before Begin arrived is
// bound to the new session.
func (c *Coordinator) Begin(parent context.Context, origin string) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:     uuid.NewString(),
		origin: origin,
		ctx:    ctx,
		cancel: cancel,
	}

	c.mu.Lock()
	prior := c.active[origin]
	c.active[origin] = s
	hb := c.pending[origin]
	delete(c.pending, origin)
	c.mu.Unlock()

	if prior != nil {
		prior.cancel()
	}
	if hb != nil {
		hb.bind(s)
	}
	return s
}

// Stop cancels the active session for origin. Unknown origins are a
// no-op; repeated stops are harmless. The registry entry is removed by
// End when the request unwinds.
func (c *Coordinator) Stop(origin string) {
	c.mu.Lock()
	s := c.active[origin]
	c.mu.Unlock()

	if s != nil {
		s.cancel()
	}
}

// End unregisters and cancels s. Called on every request exit path;
// safe to call more than once. A session that was already replaced by
// a newer Begin does not unregister its replacement.
func (c *Coordinator) End(s *Session) {
	if s == nil {
		return
	}

	c.mu.Lock()
	if c.active[s.origin] == s {
		delete(c.active, s.origin)
	}
	c.mu.Unlock()

	s.cancel()
}

// Connect attaches a liveness heartbeat for origin. If a session is
// already active the heartbeat binds to it immediately; otherwise it
// is parked until Begin arrives, which handles the surface connecting
// before the request starts. The caller must Beat within the
// heartbeat timeout or the session is cancelled as if stopped.
func (c *Coordinator) Connect(origin string) *Heartbeat {
	hb := newHeartbeat(c.heartbeatTimeout)

	c.mu.Lock()
	if s, ok := c.active[origin]; ok {
		c.mu.Unlock()
		hb.bind(s)
		return hb
	}
	c.pending[origin] = hb
	c.mu.Unlock()
	return hb
}

// Close cancels every active session and drops parked heartbeats.
func (c *Coordinator) Close() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.active))
	for _, s := range c.active {
		sessions = append(sessions, s)
	}
	c.active = make(map[string]*Session)
	c.pending = make(map[string]*Heartbeat)
	c.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
	}
}
