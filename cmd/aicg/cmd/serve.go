package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aicg/aicg/internal/executor"
	internalhttp "github.com/aicg/aicg/internal/http"
	"github.com/aicg/aicg/internal/http/handlers"
	"github.com/aicg/aicg/internal/service"
	"github.com/aicg/aicg/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the aicg API server",
	Long: `Start the aicg HTTP server and API.

The server provides:
- REST API for submitting and tracking pipeline jobs
- Generation history inspection and rollback
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := buildLogger(cfg)

	ctx, cancel := signalContext()
	defer cancel()

	db, repos, err := openDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	queue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	store, err := openBlob(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry := buildRegistry(logger)
	// The API process never synthesizes speech; no prober needed.
	svc := service.New(repos, registry, store, nil, logger)
	exec := executor.New(repos, svc, queue, nil, logger)

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	handlers.NewHealthHandler(version.Version).WithDB(db).Register(server.API())
	handlers.NewJobHandler(exec, repos.Jobs, repos.Tasks).Register(server.API())
	handlers.NewVideoHandler(repos.VideoTasks).Register(server.API())
	handlers.NewHistoryHandler(svc).Register(server.API())

	logger.Info("starting aicg server",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}
