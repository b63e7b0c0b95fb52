package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"audio-insights-go/internal/airflow"
	"audio-insights-go/internal/config"
	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/openai"
	"audio-insights-go/internal/orchestrator"
	"audio-insights-go/internal/qna"
	"audio-insights-go/internal/runwatch"
	"audio-insights-go/internal/session"
	"audio-insights-go/internal/store"
)

// Upload cap from the original UI: anything over 25 MB is rejected.
const maxUploadBytes = 25 << 20

// Follow-up chat budget.
const (
	chatMaxTokens   = 200
	chatTemperature = 0.6
)

type server struct {
	cfg      *config.Config
	store    store.Store
	airflow  *airflow.Client
	ai       orchestrator.AI
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	log      *logger.Logger
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "upload")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1024)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		reqLog.WithError(err).Warn("bad upload form")
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(hdr.Filename), ".mp3") {
		writeError(w, http.StatusBadRequest, "only mp3 files are accepted")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large (limit 25 MB)")
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large (limit 25 MB)")
		return
	}

	key := store.PendingKey(hdr.Filename)
	exists, err := s.store.Exists(r.Context(), key)
	if err != nil {
		reqLog.WithError(err).Error("exists check failed")
		writeError(w, http.StatusBadGateway, "storage unavailable")
		return
	}
	if exists {
		writeError(w, http.StatusConflict, "file already exists")
		return
	}

	if err := s.store.Put(r.Context(), key, data, "audio/mpeg"); err != nil {
		reqLog.WithError(err).Error("upload failed")
		writeError(w, http.StatusBadGateway, "upload failed")
		return
	}
	reqLog.WithField("key", key).WithField("size_bytes", len(data)).Info("audio uploaded")
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (s *server) handleFiles(w http.ResponseWriter, r *http.Request) {
	prefixes := map[string]string{
		"pending":     store.FolderPending + "/",
		"archived":    store.FolderArchived + "/",
		"transcripts": store.FolderTranscripts + "/",
	}
	prefix, ok := prefixes[r.URL.Query().Get("folder")]
	if !ok {
		writeError(w, http.StatusBadRequest, "folder must be pending, archived or transcripts")
		return
	}
	keys, err := s.store.List(r.Context(), prefix)
	if err != nil {
		s.log.WithRequest(r).WithError(err).Error("list failed")
		writeError(w, http.StatusBadGateway, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": keys})
}

func (s *server) handleAudioURL(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing key")
		return
	}
	url, err := s.store.SignedURL(key, s.cfg.SignedURLTTL)
	if err != nil {
		s.log.WithRequest(r).WithError(err).Warn("presign failed")
		writeError(w, http.StatusNotFound, "no such object")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleTriggerRun starts one remote run for a selected pending file. With
// "wait": true the handler becomes the interactive poll loop: it blocks,
// reports nothing intermediate over the wire, and answers with the terminal
// outcome and results.
func (s *server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "runs")
	var req struct {
		SelectedFile string `json:"selected_file"`
		Wait         bool   `json:"wait"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SelectedFile == "" {
		writeError(w, http.StatusBadRequest, "selected_file required")
		return
	}

	info, err := s.airflow.Trigger(r.Context(), s.cfg.AdhocDagID, map[string]any{
		"selected_file": req.SelectedFile,
	})
	if err != nil {
		reqLog.WithError(err).Error("trigger failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	reqLog = reqLog.WithField("run_id", info.DagRunID)
	reqLog.Info("run triggered")

	if !req.Wait {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id":         info.DagRunID,
			"execution_date": info.ExecutionDate,
		})
		return
	}

	watcher := &runwatch.Watcher{
		API:          s.airflow,
		DagID:        s.cfg.AdhocDagID,
		TaskID:       s.cfg.TranscribeTask,
		RunID:        info.DagRunID,
		InitialDelay: s.cfg.PollInitialDelay,
		Interval:     s.cfg.PollInterval,
		OnState: func(state airflow.State) {
			reqLog.WithField("state", state).Info("transcription status")
		},
	}
	results, err := watcher.Wait(r.Context())
	if err != nil {
		var rf *runwatch.ErrRunFailed
		if errors.As(err, &rf) {
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"run_id": info.DagRunID,
				"state":  string(airflow.StateFailed),
				"error":  "audio transcription failed",
			})
			return
		}
		reqLog.WithError(err).Error("watch failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":     info.DagRunID,
		"state":      string(airflow.StateSuccess),
		"transcript": results.Transcript,
		"answers":    results.Answers,
	})
}

func (s *server) handleRunState(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	state, err := s.airflow.RunState(r.Context(), s.cfg.AdhocDagID, runID)
	if err != nil {
		s.log.WithRequest(r).WithError(err).Warn("poll failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	resp := map[string]any{"run_id": runID, "state": string(state)}
	if state == airflow.StateSuccess {
		transcript, err := s.airflow.FetchResult(r.Context(), s.cfg.AdhocDagID, runID, s.cfg.TranscribeTask, "transcript_data")
		if err != nil {
			writeError(w, http.StatusBadGateway, "run succeeded but results are missing")
			return
		}
		rawAnswers, err := s.airflow.FetchResult(r.Context(), s.cfg.AdhocDagID, runID, s.cfg.TranscribeTask, "default_question_answers")
		if err != nil {
			writeError(w, http.StatusBadGateway, "run succeeded but results are missing")
			return
		}
		answers := map[string]string{}
		_ = json.Unmarshal([]byte(rawAnswers), &answers)
		resp["transcript"] = transcript
		resp["answers"] = answers
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleQnA serves the questionnaire page: transcript plus stored answers. A
// missing answers artifact is not an error — the response flags that the
// caller may regenerate.
func (s *server) handleQnA(w http.ResponseWriter, r *http.Request) {
	fileKey := r.URL.Query().Get("file")
	if fileKey == "" {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	sess := s.sessions.GetOrCreate(r.Header.Get("X-Session-ID"))
	sess.SelectFile(fileKey)

	transcript, err := s.store.Get(r.Context(), store.TranscriptKey(fileKey))
	if errors.Is(err, store.ErrNoObject) {
		writeError(w, http.StatusNotFound, "transcript not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "storage unavailable")
		return
	}

	resp := map[string]any{
		"session_id": sess.ID,
		"file":       fileKey,
		"transcript": string(transcript),
	}
	raw, err := s.store.Get(r.Context(), store.QnAKey(fileKey))
	switch {
	case errors.Is(err, store.ErrNoObject):
		resp["answers"] = nil
		resp["can_regenerate"] = true
		sess.CacheResults(string(transcript), nil)
	case err != nil:
		writeError(w, http.StatusBadGateway, "storage unavailable")
		return
	default:
		answers := map[string]string{}
		if err := json.Unmarshal(raw, &answers); err != nil {
			writeError(w, http.StatusBadGateway, "stored answers are corrupt")
			return
		}
		resp["answers"] = answers
		sess.CacheResults(string(transcript), answers)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleGenerateQnA(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "qna-generate")
	var req struct {
		File string `json:"file"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.File == "" {
		writeError(w, http.StatusBadRequest, "file required")
		return
	}

	answers, warnings, err := s.orch.GenerateAnswers(r.Context(), store.TranscriptKey(req.File))
	if err != nil {
		reqLog.WithError(err).Error("regenerate failed")
		var fe *orchestrator.FetchError
		if errors.As(err, &fe) {
			writeError(w, http.StatusNotFound, "transcript not found")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	warningTexts := make([]string, len(warnings))
	for i, warn := range warnings {
		warningTexts[i] = warn.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"answers":  answers,
		"warnings": warningTexts,
	})
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "chat")
	var req struct {
		SessionID string `json:"session_id"`
		File      string `json:"file"`
		Question  string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeError(w, http.StatusBadRequest, "question required")
		return
	}

	sess := s.sessions.GetOrCreate(req.SessionID)
	if req.File != "" {
		sess.SelectFile(req.File)
	}
	if sess.SelectedFile() == "" {
		writeError(w, http.StatusBadRequest, "no file selected for this session")
		return
	}

	transcript := sess.Transcript()
	if transcript == "" {
		data, err := s.store.Get(r.Context(), store.TranscriptKey(sess.SelectedFile()))
		if errors.Is(err, store.ErrNoObject) {
			writeError(w, http.StatusNotFound, "transcript not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadGateway, "storage unavailable")
			return
		}
		transcript = string(data)
		sess.CacheResults(transcript, sess.Answers())
	}

	prompt := qna.BuildChatPrompt(transcript, sess.History(), req.Question)
	answer, err := s.ai.ChatCompletion(r.Context(), []openai.Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: prompt},
	}, chatMaxTokens, chatTemperature)
	if err != nil {
		reqLog.WithError(err).Error("chat call failed")
		writeError(w, http.StatusBadGateway, "model call failed")
		return
	}
	sess.AppendExchange(req.Question, answer)

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"answer":     answer,
		"history":    sess.History(),
	})
}

func (s *server) handlePageSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Page      string `json:"page"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	page := session.Page(req.Page)
	switch page {
	case session.PageUploader, session.PageAdhoc, session.PageQuestionnaire:
	default:
		writeError(w, http.StatusBadRequest, "unknown page")
		return
	}
	sess := s.sessions.GetOrCreate(req.SessionID)
	sess.SwitchPage(page)
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sess.ID,
		"page":       string(page),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
