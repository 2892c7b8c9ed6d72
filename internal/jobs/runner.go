// Package jobs holds the background work run by the poller.
package jobs

import (
	"context"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/richardliu001/wallet-ledger/internal/service"
	"go.uber.org/zap"
)

const jobTimeout = 5 * time.Minute

// JobRunner coordinates all scheduled jobs.
type JobRunner struct {
	repo   repo.RepositoryInterface
	ledger *service.LedgerService
	config config.JobsConfig
	log    *zap.SugaredLogger
}

func NewJobRunner(r repo.RepositoryInterface, ledger *service.LedgerService, cfg config.JobsConfig, log *zap.SugaredLogger) *JobRunner {
	return &JobRunner{repo: r, ledger: ledger, config: cfg, log: log}
}

func (jr *JobRunner) Config() config.JobsConfig { return jr.config }

// runWithRecovery wraps job execution with panic recovery and a deadline.
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			jr.log.Errorw("job panicked", "job", jobName, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	if err := jobFunc(ctx); err != nil {
		jr.log.Errorw("job failed", "job", jobName, "error", err, "took", time.Since(start))
		return
	}
	jr.log.Debugw("job completed", "job", jobName, "took", time.Since(start))
}
