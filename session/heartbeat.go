package session

import (
	"sync"
	"time"
)

// Heartbeat is the liveness signal for one session. The surface
// displaying results calls Beat periodically; if beats stop for the
// configured timeout, or the surface disappears and calls Close, the
// bound session is cancelled exactly like an explicit stop.
type Heartbeat struct {
	timeout time.Duration
	beats   chan struct{}

	mu      sync.Mutex
	session *Session
	closed  bool
}

func newHeartbeat(timeout time.Duration) *Heartbeat {
	return &Heartbeat{
		timeout: timeout,
		beats:   make(chan struct{}, 1),
	}
}

// Beat marks the session alive and re-arms the watchdog. Beats before
// the heartbeat is bound to a session are harmless.
func (hb *Heartbeat) Beat() {
	select {
	case hb.beats <- struct{}{}:
	default:
	}
}

// Close reports that the surface driving the heartbeat is gone. The
// bound session is cancelled; closing twice is harmless.
func (hb *Heartbeat) Close() {
	hb.mu.Lock()
	if hb.closed {
		hb.mu.Unlock()
		return
	}
	hb.closed = true
	s := hb.session
	hb.mu.Unlock()

	if s != nil {
		s.cancel()
	}
}

// bind attaches the heartbeat to its session and starts the watchdog.
// A heartbeat binds at most once; a closed heartbeat never binds.
func (hb *Heartbeat) bind(s *Session) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if hb.closed || hb.session != nil {
		return
	}
	hb.session = s
	go hb.watch(s)
}

// watch cancels the session if beats stop arriving. The goroutine
// exits when the session ends, whatever ended it.
func (hb *Heartbeat) watch(s *Session) {
	timer := time.NewTimer(hb.timeout)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-hb.beats:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(hb.timeout)
		case <-timer.C:
			s.cancel()
			return
		}
	}
}
