package config

import (
	"fmt"
	"github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"os"
	"path/filepath"
	"time"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	BackendMemory  = "memory"
	BackendFile    = "file"
	BackendDocker  = "docker"
	BackendManaged = "managed"
)

const (
	DriverSQLite = "sqlite3"
	DriverDuckDB = "duckdb"
	DriverPgx    = "pgx"
	DriverMySQL  = "mysql"
	DriverOracle = "godror"
)

const (
	envManagedToken     = "SQLJUDGE_MANAGED_TOKEN"
	envManagedProjectID = "SQLJUDGE_MANAGED_PROJECT_ID"
)

type DatabaseConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

func (c *DatabaseConfig) Validate() error {
	return validation.ValidateStruct(
		c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverPgx, DriverMySQL, DriverOracle)),
		validation.Field(&c.DSN, validation.Required),
	)
}

type FileBackendConfig struct {
	Engine string `json:"engine"`
	Dir    string `json:"dir"`
}

func (c *FileBackendConfig) Validate() error {
	return validation.ValidateStruct(
		c,
		validation.Field(&c.Engine, validation.Required, validation.In(DriverSQLite, DriverDuckDB)),
	)
}

type DockerBackendConfig struct {
	Image    string `json:"image"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	Host     string `json:"host"`

	MemoryMB  int   `json:"memory_mb"`
	CPUPeriod int64 `json:"cpu_period"`
	CPUQuota  int64 `json:"cpu_quota"`

	ReadyTimeout int `json:"ready_timeout"`
	PollInterval int `json:"poll_interval"`
}

const (
	minMemoryMB     = 64
	minReadyTimeout = 1000
	minPollInterval = 50
)

func (c *DockerBackendConfig) Validate() error {
	return validation.ValidateStruct(
		c,
		validation.Field(&c.Image, validation.Required),
		validation.Field(&c.User, validation.Required),
		validation.Field(&c.Password, validation.Required),
		validation.Field(&c.Database, validation.Required),
		validation.Field(&c.Host, validation.Required, is.Host),
		validation.Field(&c.MemoryMB, validation.Required, validation.Min(minMemoryMB)),
		validation.Field(&c.CPUPeriod, validation.Required),
		validation.Field(&c.CPUQuota, validation.Required),
		validation.Field(&c.ReadyTimeout, validation.Required, validation.Min(minReadyTimeout)),
		validation.Field(&c.PollInterval, validation.Required, validation.Min(minPollInterval)),
	)
}

func (c *DockerBackendConfig) ReadyTimeoutDuration() time.Duration {
	return time.Duration(c.ReadyTimeout) * time.Millisecond
}

func (c *DockerBackendConfig) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

type ManagedBackendConfig struct {
	Endpoint       string `json:"endpoint"`
	Token          string `json:"token"`
	ProjectID      string `json:"project_id"`
	Driver         string `json:"driver"`
	RequestTimeout int    `json:"request_timeout"`
}

const minRequestTimeout = 100

func (c *ManagedBackendConfig) Validate() error {
	return validation.ValidateStruct(
		c,
		validation.Field(&c.Endpoint, validation.Required, is.URL),
		validation.Field(&c.Driver, validation.Required, validation.In(DriverPgx, DriverMySQL, DriverOracle)),
		validation.Field(&c.RequestTimeout, validation.Required, validation.Min(minRequestTimeout)),
	)
}

// Enabled reports whether credentials for the management API are present.
// Without them the managed backend provisions local files instead.
func (c *ManagedBackendConfig) Enabled() bool {
	return c.Token != "" && c.ProjectID != ""
}

func (c *ManagedBackendConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

type ExecutorConfig struct {
	QueryTimeout   int `json:"query_timeout"`
	MaxRows        int `json:"max_rows"`
	ConnectRetries int `json:"connect_retries"`
}

const (
	minQueryTimeout   = 10
	minMaxRows        = 1
	minConnectRetries = 0
)

func (c *ExecutorConfig) Validate() error {
	return validation.ValidateStruct(
		c,
		validation.Field(&c.QueryTimeout, validation.Required, validation.Min(minQueryTimeout)),
		validation.Field(&c.MaxRows, validation.Required, validation.Min(minMaxRows)),
		validation.Field(&c.ConnectRetries, validation.Min(minConnectRetries)),
	)
}

func (c *ExecutorConfig) QueryTimeoutDuration() time.Duration {
	return time.Duration(c.QueryTimeout) * time.Millisecond
}

const (
	minFetchPeriod   = 100
	minReviewerCount = 1
	minBatchSize     = 1
)

type SubmissionJudgeConfig struct {
	FetchPeriod   int `json:"fetch_period"`
	ReviewerCount int `json:"reviewer_count"`
	BatchSize     int `json:"batch_size"`
}

func (c *SubmissionJudgeConfig) Validate() error {
	return validation.ValidateStruct(
		c,
		validation.Field(&c.FetchPeriod, validation.Required, validation.Min(minFetchPeriod)),
		validation.Field(&c.ReviewerCount, validation.Required, validation.Min(minReviewerCount)),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(minBatchSize)),
	)
}

type LogFileConfig struct {
	Filename   string `json:"filename"`
	MaxSize    int    `json:"max_size"`
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"`
	Compress   bool   `json:"compress"`
}

type JudgesConfig struct {
	LoggerConfig zap.Config    `json:"logger"`
	LogFile      LogFileConfig `json:"log_file"`

	CatalogFile string `json:"catalog_file"`

	Backend        string               `json:"backend"`
	FileBackend    FileBackendConfig    `json:"file_backend"`
	DockerBackend  DockerBackendConfig  `json:"docker_backend"`
	ManagedBackend ManagedBackendConfig `json:"managed_backend"`

	Executor ExecutorConfig `json:"executor"`

	MainDBConfig          DatabaseConfig        `json:"main_db"`
	SubmissionJudgeConfig SubmissionJudgeConfig `json:"submission_judge"`

	MetricsAddr string `json:"metrics_addr"`
}

func Default() JudgesConfig {
	return JudgesConfig{
		LoggerConfig: zap.NewProductionConfig(),
		LogFile: LogFileConfig{
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		},
		Backend: BackendMemory,
		FileBackend: FileBackendConfig{
			Engine: DriverSQLite,
		},
		DockerBackend: DockerBackendConfig{
			Image:        "postgres:15-alpine",
			User:         "challenge_user",
			Password:     "challenge_password",
			Database:     "challenge_db",
			Host:         "127.0.0.1",
			MemoryMB:     256,
			CPUPeriod:    100000,
			CPUQuota:     50000,
			ReadyTimeout: 30000,
			PollInterval: 500,
		},
		ManagedBackend: ManagedBackendConfig{
			Endpoint:       "https://backboard.railway.app/graphql/v2",
			Driver:         DriverPgx,
			RequestTimeout: 10000,
		},
		Executor: ExecutorConfig{
			QueryTimeout:   5000,
			MaxRows:        10000,
			ConnectRetries: 2,
		},
		MainDBConfig: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    "judge.db",
		},
		SubmissionJudgeConfig: SubmissionJudgeConfig{
			FetchPeriod:   1000,
			ReviewerCount: 4,
			BatchSize:     16,
		},
		MetricsAddr: ":9100",
	}
}

func (c *JudgesConfig) Validate() error {
	if err := validation.Validate(c.Backend, validation.Required, validation.In(BackendMemory, BackendFile, BackendDocker, BackendManaged)); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if err := c.FileBackend.Validate(); err != nil {
		return fmt.Errorf("file_backend: %w", err)
	}
	if c.Backend == BackendDocker {
		if err := c.DockerBackend.Validate(); err != nil {
			return fmt.Errorf("docker_backend: %w", err)
		}
	}
	if c.Backend == BackendManaged {
		if err := c.ManagedBackend.Validate(); err != nil {
			return fmt.Errorf("managed_backend: %w", err)
		}
	}
	if err := c.Executor.Validate(); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	if err := c.MainDBConfig.Validate(); err != nil {
		return fmt.Errorf("main_db: %w", err)
	}
	if err := c.SubmissionJudgeConfig.Validate(); err != nil {
		return fmt.Errorf("submission_judge: %w", err)
	}
	return nil
}

func (c *JudgesConfig) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch ext := filepath.Ext(path); ext {
	case ".json":
		if err := c.loadFromJSON(data); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown configuration file extension: %s", ext)
	}

	c.loadFromEnv()
	return c.Validate()
}

func (c *JudgesConfig) loadFromJSON(data []byte) error {
	return json.Unmarshal(data, c)
}

// loadFromEnv lets secrets for the management API live outside the
// configuration file. A missing .env file is not an error.
func (c *JudgesConfig) loadFromEnv() {
	_ = godotenv.Load()

	if v, ok := os.LookupEnv(envManagedToken); ok {
		c.ManagedBackend.Token = v
	}
	if v, ok := os.LookupEnv(envManagedProjectID); ok {
		c.ManagedBackend.ProjectID = v
	}
}

const defaultConfigFile = "config.json"

// Load reads path over the defaults. An empty path falls back to
// config.json when it exists and to the plain defaults otherwise.
func Load(path string) (JudgesConfig, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err != nil {
			cfg.loadFromEnv()
			return cfg, cfg.Validate()
		}
		path = defaultConfigFile
	}
	if err := cfg.LoadFromFile(path); err != nil {
		return cfg, err
	}
	return cfg, nil
}
