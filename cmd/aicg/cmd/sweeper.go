package cmd

import (
	"github.com/spf13/cobra"

	"github.com/aicg/aicg/internal/executor"
	"github.com/aicg/aicg/internal/service"
	"github.com/aicg/aicg/internal/sweeper"
)

var sweeperCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Start the provider polling sweeper",
	Long: `Start the sweeper that polls in-flight video generation tasks
against their providers.

The sweeper is the safety net behind the job-scoped poll tasks: it
finds every transition with an external task handle, polls on an
exponential per-task schedule, lands finished videos in the blob store
and re-plans the affected jobs. It keeps no state of its own; restarts
resume from the repository.`,
	RunE: runSweeper,
}

func init() {
	rootCmd.AddCommand(sweeperCmd)
}

func runSweeper(cmd *cobra.Command, args []string) error {
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
	svc := service.New(repos, registry, store, nil, logger)
	exec := executor.New(repos, svc, queue, nil, logger)

	return sweeper.New(repos, svc, exec, cfg.Sweeper, logger).Run(ctx)
}
