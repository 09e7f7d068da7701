package sandbox

import (
	"context"
	"fmt"
	"github.com/elmanelman/sql-judge/catalog"
	"github.com/elmanelman/sql-judge/config"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"strings"
	"time"
)

// Backend provisions throwaway databases seeded with a challenge's schema
// and data. Instances are never shared between submissions.
type Backend interface {
	Name() string
	Provision(ctx context.Context, challenge *catalog.Challenge, userID string) (*Instance, error)
	// Teardown releases everything Provision created. It accepts nil and
	// partially provisioned instances and is safe to call more than once.
	Teardown(ctx context.Context, inst *Instance) error
}

type Instance struct {
	ID          string
	ChallengeID int
	UserID      string
	Backend     string
	Driver      string
	CreatedAt   time.Time

	db          *sqlx.DB
	dir         string
	containerID string
	remoteName  string
}

func newInstance(backend, driver string, challengeID int, userID string) *Instance {
	return &Instance{
		ID:          instanceName("challenge", "_", challengeID, userID),
		ChallengeID: challengeID,
		UserID:      userID,
		Backend:     backend,
		Driver:      driver,
		CreatedAt:   time.Now(),
	}
}

func (i *Instance) DB() *sqlx.DB {
	return i.db
}

func (i *Instance) close() error {
	if i == nil || i.db == nil {
		return nil
	}
	err := i.db.Close()
	i.db = nil
	return err
}

// instanceName derives a collision-free name from the challenge, the user
// and a random suffix.
func instanceName(prefix, sep string, challengeID int, userID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strings.Join([]string{prefix, fmt.Sprint(challengeID), sanitize(userID, sep), suffix}, sep)
}

func sanitize(s, sep string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteString(sep)
		}
	}
	if b.Len() == 0 {
		return "anonymous"
	}
	return strings.ToLower(b.String())
}

type ProvisionError struct {
	Backend     string
	ChallengeID int
	Err         error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s instance for challenge %d: %v", e.Backend, e.ChallengeID, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

func provisionError(b Backend, challenge *catalog.Challenge, err error) error {
	return &ProvisionError{Backend: b.Name(), ChallengeID: challenge.ID, Err: err}
}

// abort tears down a partially provisioned instance and returns the
// provisioning error that caused it.
func abort(ctx context.Context, logger *zap.Logger, b Backend, challenge *catalog.Challenge, inst *Instance, cause error) error {
	if err := b.Teardown(ctx, inst); err != nil {
		logger.Warn(
			"teardown after failed provisioning failed",
			zap.String("instance_id", inst.ID),
			zap.Error(err),
		)
	}
	return provisionError(b, challenge, cause)
}

func New(logger *zap.Logger, cfg config.JudgesConfig) (Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryBackend(logger), nil
	case config.BackendFile:
		return NewFileBackend(logger, cfg.FileBackend), nil
	case config.BackendDocker:
		runtime, err := NewDockerRuntime()
		if err != nil {
			return nil, err
		}
		return NewDockerBackend(logger, cfg.DockerBackend, runtime), nil
	case config.BackendManaged:
		return NewManagedBackend(logger, cfg.ManagedBackend, NewFileBackend(logger, cfg.FileBackend)), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}
