package scheduler

import (
	"time"

	"github.com/richardliu001/wallet-ledger/internal/jobs"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	jobs *jobs.JobRunner
	log  *zap.SugaredLogger
}

// NewScheduler registers the relay and reconcile jobs. Specs carry a
// seconds field and run in UTC.
func NewScheduler(jobRunner *jobs.JobRunner, log *zap.SugaredLogger) (*Scheduler, error) {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	s := &Scheduler{cron: c, jobs: jobRunner, log: log}
	if err := s.registerJobs(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) registerJobs() error {
	cfg := s.jobs.Config()
	if _, err := s.cron.AddFunc(cfg.OutboxRelay, s.jobs.RelayOutbox); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(cfg.Reconcile, s.jobs.ReconcileBalances); err != nil {
		return err
	}
	s.log.Infow("cron jobs registered", "outbox_relay", cfg.OutboxRelay, "reconcile", cfg.Reconcile)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }
