package usecase

import (
	"context"
	"sync/atomic"
	"time"

	"auraly/internal/ports"
)

// activeSession is the recording owned by the controller between Start and
// the moment its outcome has been applied.
type activeSession struct {
	rec       ports.Recording
	startedAt time.Time

	// collectCtx is cancelled by Abort while the outcome is being collected.
	collectCtx context.Context
	cancel     context.CancelFunc
	discarded  atomic.Bool

	done chan struct{}
}

func newActiveSession(rec ports.Recording) *activeSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &activeSession{
		rec:        rec,
		startedAt:  time.Now(),
		collectCtx: ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (s *activeSession) discard() {
	s.discarded.Store(true)
	s.cancel()
}
