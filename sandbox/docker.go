package sandbox

import (
	"context"
	"fmt"
	"github.com/cenkalti/backoff/v5"
	"github.com/elmanelman/sql-judge/catalog"
	"github.com/elmanelman/sql-judge/config"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"net"
	"net/url"
	"strings"
)

const (
	postgresPort      = "5432"
	postgresReadyLine = "database system is ready to accept connections"
)

var (
	errNotReady = errors.New("database is not accepting connections yet")
	errNoPort   = errors.New("container port is not published yet")
)

type ContainerSpec struct {
	Name        string
	Image       string
	Env         []string
	Labels      map[string]string
	Port        string
	HostIP      string
	MemoryBytes int64
	CPUPeriod   int64
	CPUQuota    int64
}

type ContainerState struct {
	Running  bool
	Status   string
	ExitCode int
	HostPort string
}

// ContainerRuntime is the part of a container engine the docker backend
// needs.
type ContainerRuntime interface {
	// Run creates and starts a container and returns its id.
	Run(ctx context.Context, spec ContainerSpec) (string, error)
	Inspect(ctx context.Context, id, port string) (ContainerState, error)
	Logs(ctx context.Context, id string) (string, error)
	// Remove stops and deletes a container. A missing container is not an
	// error.
	Remove(ctx context.Context, id string) error
}

// DockerBackend runs a resource-capped PostgreSQL container per instance.
type DockerBackend struct {
	logger  *zap.Logger
	cfg     config.DockerBackendConfig
	runtime ContainerRuntime
	connect connectFunc
}

func NewDockerBackend(logger *zap.Logger, cfg config.DockerBackendConfig, runtime ContainerRuntime) *DockerBackend {
	return &DockerBackend{
		logger:  logger,
		cfg:     cfg,
		runtime: runtime,
		connect: Connect,
	}
}

func (b *DockerBackend) Name() string {
	return config.BackendDocker
}

func (b *DockerBackend) Provision(ctx context.Context, challenge *catalog.Challenge, userID string) (*Instance, error) {
	inst := newInstance(b.Name(), config.DriverPgx, challenge.ID, userID)
	spec := b.containerSpec(inst)

	// the name identifies the container for teardown even if Run fails
	// after creating it
	inst.containerID = spec.Name
	id, err := b.runtime.Run(ctx, spec)
	if id != "" {
		inst.containerID = id
	}
	if err != nil {
		return nil, abort(ctx, b.logger, b, challenge, inst, errors.Wrap(err, "start container"))
	}

	b.logger.Debug(
		"container started",
		zap.String("instance_id", inst.ID),
		zap.String("container_id", inst.containerID),
		zap.String("image", spec.Image),
	)

	db, err := b.waitReady(ctx, inst)
	if err != nil {
		return nil, abort(ctx, b.logger, b, challenge, inst, err)
	}
	inst.db = db

	if err := seed(ctx, inst, challenge); err != nil {
		return nil, abort(ctx, b.logger, b, challenge, inst, err)
	}

	return inst, nil
}

func (b *DockerBackend) Teardown(ctx context.Context, inst *Instance) error {
	if inst == nil {
		return nil
	}
	err := inst.close()
	if inst.containerID != "" {
		rmErr := b.runtime.Remove(ctx, inst.containerID)
		err = multierr.Append(err, errors.Wrapf(rmErr, "remove container %s", inst.containerID))
		if rmErr == nil {
			inst.containerID = ""
		}
	}
	return err
}

func (b *DockerBackend) containerSpec(inst *Instance) ContainerSpec {
	return ContainerSpec{
		Name:  instanceName("sql-challenge", "-", inst.ChallengeID, inst.UserID),
		Image: b.cfg.Image,
		Env: []string{
			"POSTGRES_USER=" + b.cfg.User,
			"POSTGRES_PASSWORD=" + b.cfg.Password,
			"POSTGRES_DB=" + b.cfg.Database,
		},
		Labels: map[string]string{
			"sql-judge.instance":  inst.ID,
			"sql-judge.challenge": fmt.Sprint(inst.ChallengeID),
		},
		Port:        postgresPort,
		HostIP:      b.cfg.Host,
		MemoryBytes: int64(b.cfg.MemoryMB) * 1024 * 1024,
		CPUPeriod:   b.cfg.CPUPeriod,
		CPUQuota:    b.cfg.CPUQuota,
	}
}

// waitReady polls the container until PostgreSQL accepts connections or
// the ready timeout passes. A container that stopped running is not waited
// for.
func (b *DockerBackend) waitReady(ctx context.Context, inst *Instance) (*sqlx.DB, error) {
	timeout := b.cfg.ReadyTimeoutDuration()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	db, err := backoff.Retry(ctx, func() (*sqlx.DB, error) {
		state, err := b.runtime.Inspect(ctx, inst.containerID, postgresPort)
		if err != nil {
			lastErr = err
			return nil, err
		}
		if !state.Running {
			return nil, backoff.Permanent(errors.Errorf("container is %s (exit code %d)", state.Status, state.ExitCode))
		}

		logs, err := b.runtime.Logs(ctx, inst.containerID)
		if err != nil {
			lastErr = err
			return nil, err
		}
		if !strings.Contains(logs, postgresReadyLine) {
			lastErr = errNotReady
			return nil, errNotReady
		}
		if state.HostPort == "" {
			lastErr = errNoPort
			return nil, errNoPort
		}

		db, err := b.connect(ctx, config.DriverPgx, b.dsn(state.HostPort))
		if err != nil {
			lastErr = err
			return nil, err
		}
		return db, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(b.cfg.PollIntervalDuration())),
		backoff.WithMaxElapsedTime(timeout),
	)
	if err == nil {
		return db, nil
	}
	if lastErr != nil && (ctx.Err() != nil || errors.Is(err, lastErr)) {
		return nil, errors.Wrapf(lastErr, "container not ready within %s", timeout)
	}
	return nil, err
}

func (b *DockerBackend) dsn(hostPort string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(b.cfg.User, b.cfg.Password),
		Host:     net.JoinHostPort(b.cfg.Host, hostPort),
		Path:     "/" + b.cfg.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
