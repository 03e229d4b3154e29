package workers

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"lottery-reservation/internal/logger"
)

// idleBackoff spaces out iterations of a loop without interval whose last
// iteration failed.
const idleBackoff = time.Second

// Loop is one background process. Run is called every Interval, or back to
// back when Interval is zero.
type Loop struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Supervisor runs loops in their own goroutines. A failing or panicking
// iteration is logged and never affects the other loops.
type Supervisor struct {
	log *logger.Logger
	wg  sync.WaitGroup
}

func NewSupervisor(log *logger.Logger) *Supervisor {
	return &Supervisor{log: log}
}

func (s *Supervisor) Start(ctx context.Context, loops ...Loop) {
	for _, l := range loops {
		s.wg.Add(1)
		go s.run(ctx, l)
	}
}

// Wait blocks until every loop has returned after ctx is cancelled.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) run(ctx context.Context, l Loop) {
	defer s.wg.Done()
	s.log.LogWorker(l.Name, fmt.Sprintf("Started (interval %s)", l.Interval))
	defer s.log.LogWorker(l.Name, "Stopped")

	var ticker *time.Ticker
	if l.Interval > 0 {
		ticker = time.NewTicker(l.Interval)
		defer ticker.Stop()
	}

	for {
		err := s.iterate(ctx, l)
		if ctx.Err() != nil {
			return
		}

		if ticker == nil {
			if err == nil {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleBackoff):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) iterate(ctx context.Context, l Loop) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("WORKER", fmt.Sprintf("%s panicked: %v\n%s", l.Name, r, debug.Stack()))
		}
	}()

	if err := l.Run(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("WORKER", fmt.Sprintf("%s iteration failed: %v", l.Name, err))
		return err
	}
	return nil
}
