package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OldStager01/oke-autoscaler/api"
	"github.com/OldStager01/oke-autoscaler/api/handlers"
	"github.com/OldStager01/oke-autoscaler/internal/auth"
	"github.com/OldStager01/oke-autoscaler/internal/events"
	"github.com/OldStager01/oke-autoscaler/internal/logger"
	"github.com/OldStager01/oke-autoscaler/internal/metrics"
	"github.com/OldStager01/oke-autoscaler/internal/orchestrator"
	"github.com/OldStager01/oke-autoscaler/pkg/config"
	"github.com/OldStager01/oke-autoscaler/pkg/database"
	"github.com/OldStager01/oke-autoscaler/pkg/database/queries"
	"github.com/OldStager01/oke-autoscaler/pkg/models"
	"github.com/OldStager01/oke-autoscaler/pkg/validation"
)

// errErrorRecord makes a one-shot run exit non-zero after its error record
// has been printed.
var errErrorRecord = errors.New("evaluation produced an error record")

func main() {
	if err := run(); err != nil {
		if !errors.Is(err, errErrorRecord) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	once := flag.Bool("once", false, "evaluate the node pool once, print the result and exit")
	migrate := flag.Bool("migrate", false, "run database migrations")
	tokenSubject := flag.String("token", "", "print an API token for the given subject and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if *once && errors.Is(err, config.ErrConfigurationMissing) {
			return printResult(configErrorResult("", err))
		}
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		if *once {
			return printResult(configErrorResult(cfg.Pool.NodePoolID, err))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Setup(cfg.App.LogLevel, cfg.App.Mode)
	if *once {
		// stdout carries the result record.
		logger.SetOutput(os.Stderr)
	}

	if *tokenSubject != "" {
		return printToken(cfg.API, *tokenSubject)
	}

	logger.Infof("Starting %s in %s mode with the %s provider", cfg.App.Name, cfg.App.Mode, cfg.App.Provider)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	if *migrate {
		return runMigrations(cfg.Database, db)
	}

	var (
		store   events.TickResultStore
		history handlers.ResultHistory
		checker handlers.HealthChecker
	)
	if db != nil {
		repo := queries.NewTickResultRepository(db.DB)
		store, history, checker = repo, repo, db
	}

	m := metrics.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolID, deps, err := buildPoolDeps(ctx, cfg, m)
	if err != nil {
		if *once {
			return printResult(models.NewErrorResult(cfg.Pool.NodePoolID, models.ErrorReasonCollaboratorFailure, err.Error()))
		}
		return err
	}

	orch := orchestrator.New(cfg, store, m)
	if _, err := orch.AddPool(poolID, deps); err != nil {
		return fmt.Errorf("failed to register node pool: %w", err)
	}
	if err := orch.Start(); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	defer orch.Stop()

	if *once {
		result, err := orch.Evaluate(ctx, poolID)
		if err != nil {
			return err
		}
		return printResult(result)
	}

	if err := orch.StartPool(poolID); err != nil {
		return err
	}

	return serve(cfg, api.Dependencies{
		Pools:    orch,
		History:  history,
		Database: checker,
		Metrics:  m,
	})
}

func serve(cfg *config.Config, deps api.Dependencies) error {
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)

	var (
		server        *api.Server
		metricsServer *http.Server
	)
	if cfg.API.Enabled {
		server = api.NewServer(cfg, deps)
		go func() {
			logger.Infof("API server listening on port %d", cfg.API.Port)
			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()
	} else if cfg.Prometheus.Enabled {
		metricsServer = metrics.StartServer(cfg.API.Port, cfg.Prometheus.Path)
	}

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdownChan:
		logger.Infof("Received signal %v, shutting down", sig)
	}

	shutdownTimeout := cfg.App.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics shutdown error: %w", err)
		}
	}

	logger.Info("Autoscaler stopped gracefully")
	return nil
}

func openDatabase(cfg config.DatabaseConfig) (*database.DB, error) {
	if !cfg.Enabled {
		logger.Info("Database disabled, tick results will not be persisted")
		return nil, nil
	}

	db, err := database.New(cfg.ToDBConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("Database connection established")
	return db, nil
}

func runMigrations(cfg config.DatabaseConfig, db *database.DB) error {
	if db == nil {
		return errors.New("migrations require database.enabled")
	}

	timeout := cfg.MigrationTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("Running database migrations")
	if err := database.NewMigrator(db).Run(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Migrations completed successfully")
	return nil
}

func printToken(cfg config.APIConfig, subject string) error {
	if cfg.JWTSecret == "" {
		return errors.New("api.jwt_secret is not set")
	}
	if err := validation.ValidateSubject(subject); err != nil {
		return err
	}
	token, err := auth.NewService(cfg.JWTSecret, cfg.JWTIssuer, 24*time.Hour).GenerateToken(subject)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// configErrorResult reports absent settings as missing input and settings
// that are present but out of range as a precondition violation.
func configErrorResult(poolID string, err error) *models.TickResult {
	reason := models.ErrorReasonPreconditionViolation
	if errors.Is(err, config.ErrConfigurationMissing) {
		reason = models.ErrorReasonMissingInput
	}
	return models.NewErrorResult(poolID, reason, err.Error())
}

func printResult(result *models.TickResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(data))

	if result.IsError() {
		return errErrorRecord
	}
	return nil
}
