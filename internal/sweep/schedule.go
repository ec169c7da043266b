package sweep

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/treevault/internal/logging"
	"github.com/robfig/cron/v3"
)

// Locker runs fn while no other batch is in flight.
type Locker interface {
	Exclusive(ctx context.Context, fn func(ctx context.Context) error) error
}

// Schedule runs the sweep on a cron spec ("@daily", "0 3 * * *") until
// ctx is done. A run still in progress makes the next tick a no-op.
type Schedule struct {
	spec    string
	cron    *cron.Cron
	sweeper *Sweeper
	lock    Locker
	log     logging.Logger
}

func NewSchedule(spec string, sw *Sweeper, lock Locker, log logging.Logger) (*Schedule, error) {
	s := &Schedule{
		spec:    spec,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		sweeper: sw,
		lock:    lock,
		log:     log,
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run blocks until ctx is cancelled, then waits for a running sweep.
func (s *Schedule) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("sweep schedule %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.log.Info(ctx, "sweep scheduled", "schedule", s.spec)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info(ctx, "sweep schedule stopped")
	return nil
}

func (s *Schedule) tick(ctx context.Context) {
	err := s.lock.Exclusive(ctx, func(ctx context.Context) error {
		_, err := s.sweeper.Run(ctx, Options{})
		return err
	})
	if err != nil {
		s.log.Error(ctx, "scheduled sweep failed", "error", err)
	}
}
