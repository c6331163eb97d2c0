/*
scheduler.go - Background settlement sweep

PURPOSE:
  Runs the engine's unsettled-session recovery on a cron schedule. A
  crash between a session's status change and its balance settlement
  leaves the session terminal but unsettled; the sweep finds those rows
  after a grace period and finishes them, making settlement at-least-once.

SEE ALSO:
  - ledger/engine.go: RecoverUnsettled
*/
package api

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/timeshare/ledger-engine/ledger"
)

// SettlementScheduler periodically re-settles terminal sessions whose
// balance effects never landed.
type SettlementScheduler struct {
	engine *ledger.Engine
	grace  time.Duration
	log    *logrus.Logger
	cron   *cron.Cron
}

// NewSettlementScheduler builds a scheduler; call Start to begin sweeping.
func NewSettlementScheduler(engine *ledger.Engine, grace time.Duration, log *logrus.Logger) *SettlementScheduler {
	if log == nil {
		log = logrus.New()
	}
	return &SettlementScheduler{
		engine: engine,
		grace:  grace,
		log:    log,
		cron:   cron.New(),
	}
}

// Start registers the sweep under the given cron spec and starts the
// scheduler. Specs like "@every 1m" or standard five-field crontab
// expressions are accepted.
func (s *SettlementScheduler) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("spec", spec).Info("settlement sweep scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *SettlementScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *SettlementScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	settled, err := s.engine.RecoverUnsettled(ctx, s.grace)
	if err != nil {
		s.log.WithError(err).Warn("settlement sweep incomplete")
	}
	if settled > 0 {
		s.log.WithField("settled", settled).Info("settlement sweep recovered sessions")
	}
}
