package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"audio-insights-go/internal/airflow"
	"audio-insights-go/internal/config"
	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/openai"
	"audio-insights-go/internal/orchestrator"
	"audio-insights-go/internal/session"
	"audio-insights-go/internal/store"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "audio-insights-api").Info("starting service")

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

	srv := &server{
		cfg:      cfg,
		store:    s,
		airflow:  airflow.New(cfg.AirflowBaseURL, cfg.AirflowUser, cfg.AirflowPassword),
		ai:       ai,
		orch:     orchestrator.New(s, ai, log),
		sessions: session.NewManager(),
		log:      log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		log.WithRequest(r).Info("health check")
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("POST /upload", srv.handleUpload)
	mux.HandleFunc("GET /files", srv.handleFiles)
	mux.HandleFunc("GET /audio-url", srv.handleAudioURL)
	mux.HandleFunc("POST /runs", srv.handleTriggerRun)
	mux.HandleFunc("GET /runs/{id}", srv.handleRunState)
	mux.HandleFunc("GET /qna", srv.handleQnA)
	mux.HandleFunc("POST /qna/generate", srv.handleGenerateQnA)
	mux.HandleFunc("POST /chat", srv.handleChat)
	mux.HandleFunc("POST /session/page", srv.handlePageSwitch)

	addr := ":" + cfg.Port
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // ad-hoc runs block for the full remote run
		IdleTimeout:  120 * time.Second,
	}
	log.WithField("addr", addr).Info("listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}
