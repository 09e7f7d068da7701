package main

import (
	"context"
	"fmt"
	"github.com/alecthomas/kingpin/v2"
	"github.com/elmanelman/sql-judge/catalog"
	"github.com/elmanelman/sql-judge/config"
	"github.com/elmanelman/sql-judge/judge"
	"github.com/elmanelman/sql-judge/logging"
	"github.com/elmanelman/sql-judge/sandbox"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	app        = kingpin.New("sql-judge", "Executes and grades SQL challenge submissions.")
	configFile = app.Flag("config", "Configuration file.").Short('c').String()

	serveCmd = app.Command("serve", "Review queued submissions until interrupted.").Default()

	runCmd         = app.Command("run", "Execute one query against a challenge and print the outcome.")
	runChallengeID = runCmd.Arg("challenge", "Challenge id.").Required().Int()
	runQuery       = runCmd.Arg("query", "SQL query.").Required().String()
	runUserID      = runCmd.Flag("user", "User id the instance is provisioned for.").Default("cli").String()

	verifyCmd = app.Command("verify", "Run every reference solution and report the ones that fail.")

	listCmd = app.Command("list", "Print the challenge catalog.")

	submitCmd         = app.Command("submit", "Queue a query for review.")
	submitChallengeID = submitCmd.Arg("challenge", "Challenge id.").Required().Int()
	submitUserID      = submitCmd.Arg("user", "User id.").Required().String()
	submitQuery       = submitCmd.Arg("query", "SQL query.").Required().String()

	statusCmd          = app.Command("status", "Print the review status of a submission.")
	statusSubmissionID = statusCmd.Arg("submission", "Submission id.").Required().Int64()

	nextCmd    = app.Command("next", "Print the next unsolved challenge of a user.")
	nextUserID = nextCmd.Arg("user", "User id.").Required().String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	challenges, err := loadCatalog(cfg)
	if err != nil {
		logger.Fatal("failed to load catalog", zap.Error(err))
	}

	switch command {
	case serveCmd.FullCommand():
		err = serve(cfg, logger, challenges)
	case runCmd.FullCommand():
		err = run(cfg, logger, challenges)
	case verifyCmd.FullCommand():
		err = verify(cfg, logger, challenges)
	case listCmd.FullCommand():
		err = printJSON(describe(challenges.All()))
	case submitCmd.FullCommand():
		err = submit(cfg)
	case statusCmd.FullCommand():
		err = status(cfg)
	case nextCmd.FullCommand():
		err = next(cfg, challenges)
	}
	if err != nil {
		logger.Fatal("command failed", zap.String("command", command), zap.Error(err))
	}
}

func loadCatalog(cfg config.JudgesConfig) (*catalog.Catalog, error) {
	if cfg.CatalogFile == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(cfg.CatalogFile)
}

func newManager(cfg config.JudgesConfig, logger *zap.Logger, challenges *catalog.Catalog, reg prometheus.Registerer) (*judge.Manager, error) {
	backend, err := sandbox.New(logger, cfg)
	if err != nil {
		return nil, err
	}
	return judge.NewManager(
		logger,
		challenges,
		backend,
		judge.NewExecutor(logger, cfg.Executor),
		judge.NewMetrics(reg),
	), nil
}

func serve(cfg config.JudgesConfig, logger *zap.Logger, challenges *catalog.Catalog) error {
	manager, err := newManager(cfg, logger, challenges, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	wg := new(sync.WaitGroup)

	j := judge.NewJudges(wg, logger, manager)
	setupSigtermHandler(j)
	if err := j.Start(cfg); err != nil {
		return err
	}

	logger.Info(
		"judges started",
		zap.String("backend", cfg.Backend),
		zap.Int("challenges", challenges.Len()),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(ctx)

	logger.Info("judges stopped", zap.Int64("verdicts", j.Updated()))
	return j.Close(ctx)
}

func run(cfg config.JudgesConfig, logger *zap.Logger, challenges *catalog.Catalog) error {
	manager, err := newManager(cfg, logger, challenges, nil)
	if err != nil {
		return err
	}
	defer func() { _ = manager.Close(context.Background()) }()

	outcome, err := manager.Execute(context.Background(), *runChallengeID, *runUserID, *runQuery)
	if err != nil {
		return err
	}
	return printJSON(outcome)
}

func verify(cfg config.JudgesConfig, logger *zap.Logger, challenges *catalog.Catalog) error {
	manager, err := newManager(cfg, logger, challenges, nil)
	if err != nil {
		return err
	}
	defer func() { _ = manager.Close(context.Background()) }()

	failed := 0
	for _, ch := range challenges.All() {
		outcome, err := manager.Execute(context.Background(), ch.ID, "verifier", ch.Solution)
		if err != nil {
			return err
		}
		if !outcome.IsPassed() {
			failed++
			fmt.Printf("FAIL %d %s: %s %s\n", ch.ID, ch.Name, outcome.Verdict, outcome.ReviewerMessage())
			continue
		}
		fmt.Printf("ok   %d %s\n", ch.ID, ch.Name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d solutions failed", failed, challenges.Len())
	}
	return nil
}

func submit(cfg config.JudgesConfig) error {
	ctx := context.Background()
	store, err := judge.OpenStore(ctx, cfg.MainDBConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.Submit(ctx, *submitChallengeID, *submitUserID, *submitQuery)
	if err != nil {
		return err
	}
	return printJSON(map[string]int64{"submission_id": id})
}

func status(cfg config.JudgesConfig) error {
	ctx := context.Background()
	store, err := judge.OpenStore(ctx, cfg.MainDBConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	s, message, err := store.Status(ctx, *statusSubmissionID)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"submission_id":    *statusSubmissionID,
		"status":           s,
		"reviewer_message": message,
	})
}

func next(cfg config.JudgesConfig, challenges *catalog.Catalog) error {
	ctx := context.Background()
	store, err := judge.OpenStore(ctx, cfg.MainDBConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	solved, err := store.Solved(ctx, *nextUserID)
	if err != nil {
		return err
	}
	ch := challenges.Next(solved)
	if ch == nil {
		return printJSON(map[string]interface{}{"completed": true})
	}
	return printJSON(describe([]*catalog.Challenge{ch})[0])
}

type challengeView struct {
	*catalog.Challenge
	Tables []catalog.Table `json:"tables"`
}

func describe(challenges []*catalog.Challenge) []challengeView {
	views := make([]challengeView, 0, len(challenges))
	for _, ch := range challenges {
		views = append(views, challengeView{Challenge: ch, Tables: ch.Tables()})
	}
	return views
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupSigtermHandler(judges *judge.Judges) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Print("\n")
		judges.Stop()
	}()
}
