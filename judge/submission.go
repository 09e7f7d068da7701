package judge

import (
	"context"
	"errors"
	"github.com/elmanelman/sql-judge/catalog"
	"github.com/elmanelman/sql-judge/config"
	"go.uber.org/zap"
	"sync"
	"time"
)

type SubmissionJudge struct {
	logger    *zap.Logger
	store     *Store
	manager   *Manager
	waitGroup *sync.WaitGroup
	stop      chan struct{}
	verdicts  chan Verdict

	fetchTicker *time.Ticker
	batchSize   int
	jobs        chan SubmissionJob
}

func NewSubmissionJudge(
	logger *zap.Logger,
	store *Store,
	manager *Manager,
	waitGroup *sync.WaitGroup,
	stop chan struct{},
	verdicts chan Verdict,
) *SubmissionJudge {
	return &SubmissionJudge{
		logger:    logger,
		store:     store,
		manager:   manager,
		waitGroup: waitGroup,
		stop:      stop,
		verdicts:  verdicts,
		jobs:      make(chan SubmissionJob),
	}
}

func (j *SubmissionJudge) Start(ctx context.Context, cfg config.SubmissionJudgeConfig) {
	j.fetchTicker = time.NewTicker(time.Duration(cfg.FetchPeriod) * time.Millisecond)
	j.batchSize = cfg.BatchSize

	j.waitGroup.Add(1 + cfg.ReviewerCount)

	go j.StartFetching(ctx)
	for id := 1; id <= cfg.ReviewerCount; id++ {
		go j.SubmissionReviewer(ctx, id)
	}
}

func (j *SubmissionJudge) Stop() {
	j.fetchTicker.Stop()
}

// FetchJobs claims pending submissions and hands them to the reviewers.
func (j *SubmissionJudge) FetchJobs(ctx context.Context) error {
	jobs, err := j.store.FetchPending(ctx, j.batchSize)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		claimed, err := j.store.Claim(ctx, job.SubmissionID)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}

		select {
		case <-j.stop:
			j.logger.Warn(
				"claimed submission left on review",
				zap.Int64("submission_id", job.SubmissionID),
			)
			return nil
		case j.jobs <- job:
		}
	}

	return nil
}

func (j *SubmissionJudge) StartFetching(ctx context.Context) {
	defer func() {
		j.logger.Info("stopped fetching submissions")
		j.waitGroup.Done()
	}()
	for {
		select {
		case <-j.stop:
			return
		case <-j.fetchTicker.C:
			if err := j.FetchJobs(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("failed fetching submissions", zap.Error(err))
			}
		}
	}
}

func (j *SubmissionJudge) SubmissionReviewer(ctx context.Context, reviewerID int) {
	defer func() {
		j.logger.Info(
			"stopped submission reviewer",
			zap.Int("reviewer_id", reviewerID),
		)
		j.waitGroup.Done()
	}()
	for {
		select {
		case <-j.stop:
			return
		case job := <-j.jobs:
			v := j.review(ctx, job)
			select {
			case <-j.stop:
				j.logger.Warn(
					"verdict dropped on shutdown",
					zap.Int64("submission_id", job.SubmissionID),
					zap.Stringer("verdict", v.SubmissionStatusID),
				)
				return
			case j.verdicts <- v:
			}
		}
	}
}

func (j *SubmissionJudge) review(ctx context.Context, job SubmissionJob) Verdict {
	outcome, err := j.manager.Execute(ctx, job.ChallengeID, job.UserID, job.Query)
	switch {
	case errors.Is(err, catalog.ErrChallengeNotFound):
		return Verdict{
			SubmissionID:       job.SubmissionID,
			SubmissionStatusID: ExecutionError,
			ReviewerMessage:    err.Error(),
		}
	case err != nil:
		j.logger.Error(
			"error reviewing submission",
			zap.Int64("submission_id", job.SubmissionID),
			zap.Error(err),
		)
		return Verdict{
			SubmissionID:       job.SubmissionID,
			SubmissionStatusID: SystemError,
			ReviewerMessage:    err.Error(),
		}
	}

	return Verdict{
		SubmissionID:       job.SubmissionID,
		SubmissionStatusID: outcome.Verdict,
		Passed:             outcome.Passed,
		ReviewerMessage:    outcome.ReviewerMessage(),
	}
}
