package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aicg/aicg/internal/assembly"
	"github.com/aicg/aicg/internal/ffmpeg"
	"github.com/aicg/aicg/internal/models"
)

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Assemble a chapter's final video",
	Long: `Render a chapter's final video from its generated materials,
bypassing the job queue.

All upstream artifacts (transition videos for movie chapters, sentence
images and audio for narrative chapters) must already exist; missing
materials are reported as an enumerated list.`,
	RunE: runCompose,
}

func init() {
	rootCmd.AddCommand(composeCmd)

	composeCmd.Flags().String("chapter", "", "chapter ID (ULID)")
	_ = composeCmd.MarkFlagRequired("chapter")
}

func runCompose(cmd *cobra.Command, args []string) error {
	chapterFlag, _ := cmd.Flags().GetString("chapter")
	chapterID, err := models.ParseULID(chapterFlag)
	if err != nil {
		return configErr(fmt.Errorf("invalid chapter id %q: %w", chapterFlag, err))
	}

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

	store, err := openBlob(ctx, cfg, logger)
	if err != nil {
		return err
	}

	info, err := ffmpeg.NewBinaryDetector(cfg.FFmpeg).Detect(ctx)
	if err != nil {
		return depErr(fmt.Errorf("resolving ffmpeg: %w", err))
	}
	runner := ffmpeg.NewRunner(info.FFmpegPath, logger)
	prober := ffmpeg.NewProber(info.FFprobePath)

	engine := assembly.New(repos, store, runner, prober, cfg.Assembly, logger)
	result, err := engine.AssembleChapter(ctx, chapterID)
	if err != nil {
		return err
	}

	if err := repos.Chapters.SetVideo(ctx, chapterID, result.VideoURL, result.DurationMs); err != nil {
		return err
	}
	if err := repos.Chapters.AdvanceStatus(ctx, chapterID, models.PipelineStatusCompleted); err != nil {
		var pe *models.Error
		if !errors.As(err, &pe) || pe.Kind != models.ErrKindConflict {
			return err
		}
	}

	fmt.Println(result.VideoURL)
	return nil
}
