package protocol

import "time"

// Timers tracks the receive and idle deadlines of a connection. It does no I/O; the engine polls
// it from its tick loop. A zero deadline means the timer is disarmed.
type Timers struct {
	receiveTimeout time.Duration
	idleTimeout    time.Duration
	now            func() time.Time

	receiveDeadline time.Time
	idleDeadline    time.Time
}

// NewTimers returns disarmed timers read against now, or time.Now when now is nil.
func NewTimers(receiveTimeout, idleTimeout time.Duration, now func() time.Time) *Timers {
	if now == nil {
		now = time.Now
	}
	return &Timers{
		receiveTimeout: receiveTimeout,
		idleTimeout:    idleTimeout,
		now:            now,
	}
}

func (t *Timers) RestartReceiveTimer() {
	t.receiveDeadline = t.now().Add(t.receiveTimeout)
}

func (t *Timers) RestartIdleTimer() {
	t.idleDeadline = t.now().Add(t.idleTimeout)
}

func (t *Timers) ReceiveTimedOut() bool {
	return expired(t.receiveDeadline, t.now())
}

func (t *Timers) IdleTimedOut() bool {
	return expired(t.idleDeadline, t.now())
}

// Stop disarms both timers.
func (t *Timers) Stop() {
	t.receiveDeadline = time.Time{}
	t.idleDeadline = time.Time{}
}

func expired(deadline, now time.Time) bool {
	return !deadline.IsZero() && !now.Before(deadline)
}
