package judge

import (
	"context"
	"github.com/elmanelman/sql-judge/catalog"
	"github.com/elmanelman/sql-judge/sandbox"
	"go.uber.org/zap"
	"time"
)

const teardownTimeout = 30 * time.Second

// Manager runs a submission end to end: it provisions an instance for the
// challenge, executes the query, grades the result and tears the instance
// down again.
type Manager struct {
	logger   *zap.Logger
	catalog  *catalog.Catalog
	backend  sandbox.Backend
	executor *Executor
	registry *sandbox.Registry
	metrics  *Metrics
}

func NewManager(
	logger *zap.Logger,
	challenges *catalog.Catalog,
	backend sandbox.Backend,
	executor *Executor,
	metrics *Metrics,
) *Manager {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Manager{
		logger:   logger,
		catalog:  challenges,
		backend:  backend,
		executor: executor,
		registry: sandbox.NewRegistry(),
		metrics:  metrics,
	}
}

func (m *Manager) Catalog() *catalog.Catalog {
	return m.catalog
}

// Execute grades query as userID's attempt at the challenge. Only unknown
// challenges (catalog.ErrChallengeNotFound) and provisioning failures
// (*sandbox.ProvisionError) are returned as errors; everything the query
// does ends up in the outcome.
func (m *Manager) Execute(ctx context.Context, challengeID int, userID, query string) (*Outcome, error) {
	challenge, err := m.catalog.Find(challengeID)
	if err != nil {
		return nil, err
	}

	logger := m.logger.With(
		zap.Int("challenge_id", challengeID),
		zap.String("user_id", userID),
	)

	start := time.Now()
	inst, err := m.backend.Provision(ctx, challenge, userID)
	m.metrics.observeProvision(m.backend.Name(), time.Since(start), err)
	if err != nil {
		logger.Error("instance provisioning failed", zap.Error(err))
		return nil, err
	}

	m.registry.Add(inst)
	m.metrics.activeInstances.Inc()
	defer m.release(ctx, logger, inst)

	logger = logger.With(
		zap.String("instance_id", inst.ID),
		zap.String("backend", inst.Backend),
	)

	result := m.executor.Run(ctx, inst.DB(), query)
	m.metrics.queryDuration.WithLabelValues(inst.Backend).Observe(result.Duration.Seconds())

	outcome := grade(challenge, query, result)
	m.metrics.submissions.WithLabelValues(outcome.Verdict.String()).Inc()

	logger.Info(
		"submission graded",
		zap.Stringer("verdict", outcome.Verdict),
		zap.Bool("success", outcome.Success),
		zap.Duration("query_duration", result.Duration),
	)

	return outcome, nil
}

// release tears the instance down. Failures are logged and counted but
// never reach the caller.
func (m *Manager) release(ctx context.Context, logger *zap.Logger, inst *sandbox.Instance) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	m.registry.Remove(inst.ID)
	m.metrics.activeInstances.Dec()
	if err := m.backend.Teardown(ctx, inst); err != nil {
		m.metrics.teardownFailures.Inc()
		logger.Warn("instance teardown failed", zap.Error(err))
	}
}

// Close tears down every instance that is still registered.
func (m *Manager) Close(ctx context.Context) error {
	return m.registry.CloseAll(ctx, m.backend)
}

func grade(challenge *catalog.Challenge, query string, result Result) *Outcome {
	outcome := &Outcome{
		Success: result.Success,
		Message: result.Message,
	}
	if !result.Success {
		outcome.Error = result.Error
		outcome.Verdict = ExecutionError
		if result.ConnectionFailure {
			outcome.Verdict = SystemError
		}
		return outcome
	}

	outcome.Results = result.Rows
	outcome.Columns = result.Columns
	outcome.RowsAffected = result.RowsAffected

	outcome.Verdict = Diagnose(result.Rows, challenge.ExpectedOutput)
	passed := outcome.Verdict == Accepted
	if !passed {
		outcome.Expected = challenge.ExpectedOutput
		outcome.ExpectedColumns = challenge.ExpectedColumnNames
	}

	if fragment, ok := violatedRestriction(query, challenge.Restricted); ok {
		passed = false
		outcome.Verdict = RestrictionViolated
		outcome.Message = restrictionMessage(fragment)
	}

	outcome.Passed = &passed
	return outcome
}
