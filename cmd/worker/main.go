package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"audio-insights-go/internal/config"
	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/openai"
	"audio-insights-go/internal/orchestrator"
	"audio-insights-go/internal/report"
	"audio-insights-go/internal/store"
)

// The worker is what the scheduler executes. SELECTED_FILE set = the ad-hoc
// single-file run; unset = the nightly batch over everything pending,
// followed by an xlsx report under reports/.
func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "transcribe-worker").Info("starting worker")

	cfg, err := config.FromEnv()
	if err != nil {
		log.WithError(err).Fatal("bad configuration")
	}

	s, err := store.NewS3FromRegion(cfg.AWSRegion, cfg.Bucket)
	if err != nil {
		log.WithError(err).Fatal("object store init failed")
	}

	ai := openai.New(openai.Options{
		APIKey:          cfg.OpenAIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		ChatModel:       cfg.ChatModel,
		TranscribeModel: cfg.TranscribeModel,
	})

	o := orchestrator.New(s, ai, log)
	ctx := context.Background()

	if selected := os.Getenv("SELECTED_FILE"); selected != "" {
		runOne(ctx, log, o, selected)
		return
	}
	runBatch(ctx, log, o, s)
}

func runOne(ctx context.Context, log *logger.Logger, o *orchestrator.Orchestrator, selected string) {
	res, err := o.Process(ctx, selected)
	if err != nil {
		log.WithField("selected_file", selected).WithError(err).Fatal("run failed")
	}
	log.WithField("selected_file", selected).
		WithField("answers", res.Answers.Len()).
		WithField("archived", res.Archived).
		Info("run succeeded")
}

func runBatch(ctx context.Context, log *logger.Logger, o *orchestrator.Orchestrator, s store.Store) {
	batch, err := o.ProcessAll(ctx)
	if err != nil {
		log.WithError(err).Fatal("batch aborted")
	}

	key, err := report.Write(ctx, s, batch)
	if err != nil {
		// The batch itself already ran; a failed report is not worth a
		// non-zero exit.
		log.WithError(err).Warn("batch report not written")
	} else {
		log.WithField("report_key", key).Info("batch report written")
	}

	if batch.Failed() > 0 {
		log.WithField("failed", batch.Failed()).Warn("batch finished with failures")
		os.Exit(1)
	}
}
