package engine

import (
	"context"
	"errors"
	"time"
)

// ErrLoopStopped is returned by Do when the loop exits before running the
// command
var ErrLoopStopped = errors.New("engine: loop stopped")

type command struct {
	fn   func(*Engine) error
	done chan error
}

// Loop is the polling loop that owns an Engine. Each pass runs at most one
// queued command and then one Probe, so commands never run concurrently
// with a probe or with each other.
type Loop struct {
	engine   *Engine
	interval time.Duration
	cmds     chan command
	stopped  chan struct{}

	// OnOutcome is called after every probe that saw a change
	OnOutcome func(Outcome)
}

// NewLoop creates a loop for e. interval is the pause between passes; zero
// polls continuously.
func NewLoop(e *Engine, interval time.Duration) *Loop {
	return &Loop{
		engine:   e,
		interval: interval,
		cmds:     make(chan command),
		stopped:  make(chan struct{}),
	}
}

// Engine returns the engine driven by the loop
func (l *Loop) Engine() *Engine {
	return l.engine
}

// Run polls until ctx is cancelled
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)

	l.engine.cfg.Logger.Printf("Polling loop started (interval %v, autoprobe %s)", l.interval, onOff(l.engine.Autoprobe()))
	defer l.engine.cfg.Logger.Printf("Polling loop stopped")

	var tick <-chan time.Time
	if l.interval > 0 {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// ran is set when the wait between passes already ran this pass's command
	ran := false
	for {
		if !ran {
			select {
			case <-ctx.Done():
				return nil
			case c := <-l.cmds:
				c.done <- c.fn(l.engine)
			default:
			}
		}
		ran = false

		if o, ok := l.engine.Probe(); ok && l.OnOutcome != nil {
			l.OnOutcome(o)
		}

		if tick == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case c := <-l.cmds:
			c.done <- c.fn(l.engine)
			ran = true
		case <-tick:
		}
	}
}

// Do runs fn on the loop goroutine and returns its error. It waits for the
// loop to pick the command up.
func (l *Loop) Do(ctx context.Context, fn func(*Engine) error) error {
	c := command{fn: fn, done: make(chan error, 1)}
	select {
	case l.cmds <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrLoopStopped
	}

	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
