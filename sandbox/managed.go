package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"github.com/elmanelman/sql-judge/catalog"
	"github.com/elmanelman/sql-judge/config"
	"github.com/go-sql-driver/mysql"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	createDatabaseMutation = `mutation createDatabase($input: DatabaseCreateInput!) {
  createDatabase(input: $input) { id name connectionString }
}`
	deleteDatabaseMutation = `mutation deleteDatabase($input: DatabaseDeleteInput!) {
  deleteDatabase(input: $input)
}`
)

// ManagedBackend creates one database per instance through a hosted
// provider's GraphQL management API. Without credentials it hands every
// request to its fallback backend.
type ManagedBackend struct {
	logger   *zap.Logger
	cfg      config.ManagedBackendConfig
	client   *http.Client
	fallback Backend
	connect  connectFunc
}

func NewManagedBackend(logger *zap.Logger, cfg config.ManagedBackendConfig, fallback Backend) *ManagedBackend {
	return &ManagedBackend{
		logger:   logger,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.RequestTimeoutDuration()},
		fallback: fallback,
		connect:  Connect,
	}
}

func (b *ManagedBackend) Name() string {
	return config.BackendManaged
}

func (b *ManagedBackend) Provision(ctx context.Context, challenge *catalog.Challenge, userID string) (*Instance, error) {
	if !b.cfg.Enabled() {
		b.logger.Debug(
			"management API credentials missing, provisioning locally",
			zap.String("fallback", b.fallback.Name()),
			zap.Int("challenge_id", challenge.ID),
		)
		return b.fallback.Provision(ctx, challenge, userID)
	}

	inst := newInstance(b.Name(), b.cfg.Driver, challenge.ID, userID)

	connectionString, err := b.createDatabase(ctx, inst.ID)
	if err != nil {
		return nil, provisionError(b, challenge, err)
	}
	inst.remoteName = inst.ID

	dsn, err := driverDSN(b.cfg.Driver, connectionString)
	if err != nil {
		return nil, abort(ctx, b.logger, b, challenge, inst, err)
	}
	db, err := b.connect(ctx, b.cfg.Driver, dsn)
	if err != nil {
		return nil, abort(ctx, b.logger, b, challenge, inst, err)
	}
	inst.db = db

	if err := seed(ctx, inst, challenge); err != nil {
		return nil, abort(ctx, b.logger, b, challenge, inst, err)
	}

	b.logger.Debug(
		"managed database provisioned",
		zap.String("instance_id", inst.ID),
		zap.Int("challenge_id", challenge.ID),
	)

	return inst, nil
}

// Teardown deletes the remote database. Instances provisioned by the
// fallback are torn down by it.
func (b *ManagedBackend) Teardown(ctx context.Context, inst *Instance) error {
	if inst == nil {
		return nil
	}
	if inst.Backend != b.Name() {
		return b.fallback.Teardown(ctx, inst)
	}
	err := inst.close()
	if inst.remoteName != "" {
		delErr := b.deleteDatabase(ctx, inst.remoteName)
		err = multierr.Append(err, delErr)
		if delErr == nil {
			inst.remoteName = ""
		}
	}
	return err
}

func (b *ManagedBackend) createDatabase(ctx context.Context, name string) (string, error) {
	var data struct {
		CreateDatabase struct {
			ID               string `json:"id"`
			Name             string `json:"name"`
			ConnectionString string `json:"connectionString"`
		} `json:"createDatabase"`
	}
	err := b.do(ctx, createDatabaseMutation, map[string]interface{}{
		"input": map[string]interface{}{
			"name":      name,
			"projectId": b.cfg.ProjectID,
			"type":      databaseType(b.cfg.Driver),
		},
	}, &data)
	if err != nil {
		return "", errors.Wrap(err, "create database")
	}
	if data.CreateDatabase.ConnectionString == "" {
		return "", errors.New("create database: no connection string returned")
	}
	return data.CreateDatabase.ConnectionString, nil
}

func (b *ManagedBackend) deleteDatabase(ctx context.Context, name string) error {
	err := b.do(ctx, deleteDatabaseMutation, map[string]interface{}{
		"input": map[string]interface{}{
			"name":      name,
			"projectId": b.cfg.ProjectID,
		},
	}, nil)
	return errors.Wrapf(err, "delete database %s", name)
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLResponse struct {
	Data   jsoniter.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (b *ManagedBackend) do(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.cfg.Token)

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("management API returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var gr graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return errors.Wrap(err, "decode management API response")
	}
	if len(gr.Errors) > 0 {
		messages := make([]string, 0, len(gr.Errors))
		for _, e := range gr.Errors {
			messages = append(messages, e.Message)
		}
		return errors.Errorf("management API: %s", strings.Join(messages, "; "))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(gr.Data, out)
}

func databaseType(driverName string) string {
	switch driverName {
	case config.DriverMySQL:
		return "MYSQL"
	case config.DriverOracle:
		return "ORACLE"
	default:
		return "POSTGRESQL"
	}
}

// driverDSN converts a URL-style connection string into the form the
// driver expects.
func driverDSN(driverName, connectionString string) (string, error) {
	switch driverName {
	case config.DriverMySQL:
		if !strings.Contains(connectionString, "://") {
			return connectionString, nil
		}
		u, err := url.Parse(connectionString)
		if err != nil {
			return "", errors.Wrap(err, "parse connection string")
		}
		cfg := mysql.NewConfig()
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
		cfg.Net = "tcp"
		cfg.Addr = u.Host
		cfg.DBName = strings.TrimPrefix(u.Path, "/")
		return cfg.FormatDSN(), nil
	case config.DriverOracle:
		if !strings.Contains(connectionString, "://") {
			return connectionString, nil
		}
		u, err := url.Parse(connectionString)
		if err != nil {
			return "", errors.Wrap(err, "parse connection string")
		}
		password, _ := u.User.Password()
		return fmt.Sprintf("%s/%s@%s%s", u.User.Username(), password, u.Host, u.Path), nil
	default:
		return connectionString, nil
	}
}
