package cmd

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/aicg/aicg/internal/assembly"
	"github.com/aicg/aicg/internal/executor"
	"github.com/aicg/aicg/internal/ffmpeg"
	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/runtime"
	"github.com/aicg/aicg/internal/service"
	"github.com/aicg/aicg/internal/startup"
	"github.com/aicg/aicg/internal/sweeper"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a task worker",
	Long: `Start a worker that consumes generation tasks from the queue.

A worker can be restricted to a subset of task kinds so heavy stages
(video, assembly) run on dedicated hosts:

  aicg worker --kinds text,image,tts
  aicg worker --kinds assembly --concurrency assembly=1`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().StringSlice("kinds", nil, "task kinds to consume (default all)")
	workerCmd.Flags().StringToInt("concurrency", nil, "per-kind concurrency override, e.g. image=8")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := buildLogger(cfg)

	if cmd.Flags().Changed("kinds") {
		cfg.Worker.Kinds, _ = cmd.Flags().GetStringSlice("kinds")
	}
	if cmd.Flags().Changed("concurrency") {
		overrides, _ := cmd.Flags().GetStringToInt("concurrency")
		if cfg.Worker.Concurrency == nil {
			cfg.Worker.Concurrency = map[string]int{}
		}
		for kind, n := range overrides {
			cfg.Worker.Concurrency[kind] = n
		}
	}
	for _, kind := range cfg.Worker.Kinds {
		if !slices.Contains(models.AllTaskKinds, models.TaskKind(kind)) {
			return configErr(fmt.Errorf("unknown task kind %q", kind))
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	if removed, err := startup.CleanupOrphanedScratchDirs(logger, cfg.Assembly.ScratchDir, startup.DefaultCleanupAge); err != nil {
		logger.Warn("cleaning orphaned scratch directories", "error", err)
	} else if removed > 0 {
		logger.Info("cleaned orphaned scratch directories", "removed", removed)
	}

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

	// FFmpeg is only required when this worker renders assembly tasks.
	needsAssembly := len(cfg.Worker.Kinds) == 0 ||
		slices.Contains(cfg.Worker.Kinds, string(models.TaskKindAssembly))
	var engine *assembly.Engine
	var prober *ffmpeg.Prober
	info, ffErr := ffmpeg.NewBinaryDetector(cfg.FFmpeg).Detect(ctx)
	switch {
	case ffErr == nil:
		prober = ffmpeg.NewProber(info.FFprobePath)
	case needsAssembly:
		return depErr(fmt.Errorf("resolving ffmpeg: %w", ffErr))
	default:
		logger.Warn("ffmpeg not found, audio durations unavailable", "error", ffErr)
	}

	svc := service.New(repos, registry, store, prober, logger)
	if ffErr == nil {
		runner := ffmpeg.NewRunner(info.FFmpegPath, logger)
		engine = assembly.New(repos, store, runner, prober, cfg.Assembly, logger)
	}

	var assembler executor.Assembler
	if engine != nil {
		assembler = engine
	}
	exec := executor.New(repos, svc, queue, assembler, logger)

	worker := runtime.NewWorker(cfg.Worker, queue, repos.Tasks, repos.Jobs,
		exec.Handler(), exec.TerminalFunc(), logger)

	janitor := sweeper.NewJanitor(repos.Jobs, cfg.Worker.JobTTLSuccess, cfg.Worker.JobTTLFailure, logger)
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("starting job ttl sweep: %w", err)
	}
	defer janitor.Stop()

	logger.Info("starting worker",
		slog.Any("kinds", cfg.Worker.Kinds),
		slog.String("worker_id", worker.ID()),
	)

	return worker.Run(ctx)
}
