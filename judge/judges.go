package judge

import (
	"context"
	"github.com/elmanelman/sql-judge/config"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"sync"
)

type Judges struct {
	logger *zap.Logger

	store   *Store
	manager *Manager

	waitGroup *sync.WaitGroup
	stop      chan struct{}
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	submissionJudge *SubmissionJudge

	verdicts chan Verdict
	updated  atomic.Int64
}

func NewJudges(wg *sync.WaitGroup, logger *zap.Logger, manager *Manager) *Judges {
	ctx, cancel := context.WithCancel(context.Background())
	return &Judges{
		logger:    logger,
		manager:   manager,
		waitGroup: wg,
		stop:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		verdicts:  make(chan Verdict),
	}
}

func (j *Judges) Start(cfg config.JudgesConfig) error {
	// set up common dependencies
	if err := j.ConnectMainDB(cfg); err != nil {
		return err
	}
	if err := j.requeue(); err != nil {
		return err
	}
	j.waitGroup.Add(1)

	go j.SubmissionUpdater()

	// set up judges
	j.submissionJudge = NewSubmissionJudge(j.logger, j.store, j.manager, j.waitGroup, j.stop, j.verdicts)

	// start judges
	j.submissionJudge.Start(j.ctx, cfg.SubmissionJudgeConfig)

	return nil
}

// Stop signals every goroutine to finish. Reviews in progress are
// cancelled. Wait on the WaitGroup, then Close.
func (j *Judges) Stop() {
	j.stopOnce.Do(func() {
		if j.submissionJudge != nil {
			j.submissionJudge.Stop()
		}
		j.cancel()
		close(j.stop)
	})
}

// Close releases the main database and any instance left behind.
func (j *Judges) Close(ctx context.Context) error {
	err := j.manager.Close(ctx)
	if j.store != nil {
		if closeErr := j.store.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

func (j *Judges) ConnectMainDB(cfg config.JudgesConfig) error {
	store, err := OpenStore(j.ctx, cfg.MainDBConfig)
	if err != nil {
		return err
	}

	j.store = store

	j.logger.Info(
		"main database connected",
		zap.String("driver", cfg.MainDBConfig.Driver),
	)

	return nil
}

// requeue returns submissions claimed by a previous run that never got a
// verdict to the queue.
func (j *Judges) requeue() error {
	n, err := j.store.Requeue(j.ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger.Info("requeued unreviewed submissions", zap.Int64("count", n))
	}
	return nil
}

func (j *Judges) Store() *Store {
	return j.store
}

// Updated returns how many verdicts have been written.
func (j *Judges) Updated() int64 {
	return j.updated.Load()
}

func (j *Judges) SubmissionUpdater() {
	defer func() {
		j.logger.Info("stopped submission updater")
		j.waitGroup.Done()
	}()
	for {
		select {
		case <-j.stop:
			return
		case v := <-j.verdicts:
			// the update must land even when a stop is underway
			if err := j.store.UpdateReviewInfo(context.Background(), v); err != nil {
				j.logger.Error(
					"submission update failed",
					zap.Int64("submission_id", v.SubmissionID),
					zap.Error(err),
				)
				continue
			}
			j.updated.Inc()
		}
	}
}
