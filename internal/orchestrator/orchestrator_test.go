package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/openai"
	"audio-insights-go/internal/store"
)

type fakeAI struct {
	transcript    string
	transcribeErr error
	chatResponse  string
	chatErr       func(prompt string) error

	transcribeCalls int
	chatCalls       int
	lastPrompt      string
}

func (f *fakeAI) Transcribe(ctx context.Context, fileName string, audio []byte) (string, error) {
	f.transcribeCalls++
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return f.transcript, nil
}

func (f *fakeAI) ChatCompletion(ctx context.Context, messages []openai.Message, maxTokens int, temperature float64) (string, error) {
	f.chatCalls++
	if len(messages) > 0 {
		f.lastPrompt = messages[0].Content
	}
	if f.chatErr != nil {
		if err := f.chatErr(f.lastPrompt); err != nil {
			return "", err
		}
	}
	return f.chatResponse, nil
}

func setup(t *testing.T) (*store.Memory, *fakeAI, *Orchestrator) {
	t.Helper()
	m := store.NewMemory()
	ai := &fakeAI{
		transcript:   "three people talk about the roadmap",
		chatResponse: "1. Three\n2. Neutral",
	}
	questions, _ := json.Marshal([]string{"How many speakers?", "What is the tone?"})
	if err := m.Put(context.Background(), store.DefaultQuestionsKey, questions, "application/json"); err != nil {
		t.Fatalf("seed questions: %v", err)
	}
	return m, ai, New(m, ai, logger.New())
}

func seedAudio(t *testing.T, m *store.Memory, name string) {
	t.Helper()
	if err := m.Put(context.Background(), store.PendingKey(name), []byte("mp3-bytes-"+name), "audio/mpeg"); err != nil {
		t.Fatalf("seed audio: %v", err)
	}
}

// The literal end-to-end scenario: transcript at transcripts/meeting1.txt,
// answers at default_qna/meeting1.json, audio moved to archived/.
func TestProcessHappyPath(t *testing.T) {
	ctx := context.Background()
	m, _, o := setup(t)
	seedAudio(t, m, "meeting1.mp3")

	res, err := o.Process(ctx, "to_be_processed/meeting1.mp3")
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	data, err := m.Get(ctx, "transcripts/meeting1.txt")
	if err != nil {
		t.Fatalf("transcript missing: %v", err)
	}
	if string(data) != "three people talk about the roadmap" {
		t.Errorf("transcript = %q", data)
	}

	raw, err := m.Get(ctx, "default_qna/meeting1.json")
	if err != nil {
		t.Fatalf("answers missing: %v", err)
	}
	var answers map[string]string
	if err := json.Unmarshal(raw, &answers); err != nil {
		t.Fatalf("answers decode: %v", err)
	}
	if answers["How many speakers?"] != "Three" || answers["What is the tone?"] != "Neutral" {
		t.Errorf("answers = %v", answers)
	}

	if ok, _ := m.Exists(ctx, "archived/meeting1.mp3"); !ok {
		t.Error("audio should be archived")
	}
	if ok, _ := m.Exists(ctx, "to_be_processed/meeting1.mp3"); ok {
		t.Error("audio should be gone from pending")
	}
	if !res.Archived || res.Answers.Len() != 2 || len(res.Warnings) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestProcessMissingSource(t *testing.T) {
	_, _, o := setup(t)
	_, err := o.Process(context.Background(), "to_be_processed/ghost.mp3")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
	if !errors.Is(err, store.ErrNoObject) {
		t.Errorf("cause = %v, want ErrNoObject", err)
	}
}

func TestProcessTranscribeFailure(t *testing.T) {
	ctx := context.Background()
	m, ai, o := setup(t)
	seedAudio(t, m, "a.mp3")
	ai.transcribeErr = errors.New("whisper down")

	_, err := o.Process(ctx, "to_be_processed/a.mp3")
	var me *ModelCallError
	if !errors.As(err, &me) || me.Op != "transcribe" {
		t.Fatalf("error = %v, want transcribe ModelCallError", err)
	}
	if ok, _ := m.Exists(ctx, "transcripts/a.txt"); ok {
		t.Error("no transcript should be written after a failed model call")
	}
}

// First transcript write fails, the retry succeeds, the run succeeds.
func TestProcessTranscriptUploadRetry(t *testing.T) {
	ctx := context.Background()
	m, _, o := setup(t)
	seedAudio(t, m, "a.mp3")

	puts := 0
	m.FailPut = func(key string) error {
		if strings.HasPrefix(key, "transcripts/") {
			puts++
			if puts == 1 {
				return errors.New("transient storage error")
			}
		}
		return nil
	}

	if _, err := o.Process(ctx, "to_be_processed/a.mp3"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if puts != 2 {
		t.Errorf("transcript put attempts = %d, want 2", puts)
	}
	if ok, _ := m.Exists(ctx, "transcripts/a.txt"); !ok {
		t.Error("transcript should exist after retry")
	}
}

// Both attempts fail: the run fails with UploadError and no answers appear.
func TestProcessTranscriptUploadExhausted(t *testing.T) {
	ctx := context.Background()
	m, ai, o := setup(t)
	seedAudio(t, m, "a.mp3")
	m.FailPut = func(key string) error {
		if strings.HasPrefix(key, "transcripts/") {
			return errors.New("storage down")
		}
		return nil
	}

	_, err := o.Process(ctx, "to_be_processed/a.mp3")
	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want *UploadError", err)
	}
	if ai.chatCalls != 0 {
		t.Error("Q&A call should not happen after a failed transcript persist")
	}
	if ok, _ := m.Exists(ctx, "default_qna/a.json"); ok {
		t.Error("no answers should be written")
	}
}

// Archive failure is degraded, not fatal: the run still reports success and
// both artifacts exist.
func TestProcessArchiveFailureNonFatal(t *testing.T) {
	ctx := context.Background()
	m, _, o := setup(t)
	seedAudio(t, m, "a.mp3")
	m.FailDelete = func(string) error { return errors.New("delete refused") }

	res, err := o.Process(ctx, "to_be_processed/a.mp3")
	if err != nil {
		t.Fatalf("process should succeed despite archive failure: %v", err)
	}
	if res.Archived {
		t.Error("result should record the failed archive")
	}
	if ok, _ := m.Exists(ctx, "transcripts/a.txt"); !ok {
		t.Error("transcript missing")
	}
	if ok, _ := m.Exists(ctx, "default_qna/a.json"); !ok {
		t.Error("answers missing")
	}
	// The stale copy stays visible in pending.
	if ok, _ := m.Exists(ctx, "to_be_processed/a.mp3"); !ok {
		t.Error("pending copy should survive a failed delete")
	}
}

// A mangled answer line for one question yields a partial record and success.
func TestProcessPartialAnswers(t *testing.T) {
	ctx := context.Background()
	m, ai, o := setup(t)
	seedAudio(t, m, "a.mp3")
	questions, _ := json.Marshal([]string{"q1", "q2", "q3", "q4", "q5", "q6"})
	_ = m.Put(ctx, store.DefaultQuestionsKey, questions, "application/json")
	ai.chatResponse = "1. a1\n2. a2\nmangled\n4. a4\n5. a5\n6. a6"

	res, err := o.Process(ctx, "to_be_processed/a.mp3")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Answers.Len() != 5 {
		t.Errorf("answers = %d, want 5", res.Answers.Len())
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v", res.Warnings)
	}

	raw, _ := m.Get(ctx, "default_qna/a.json")
	var stored map[string]string
	_ = json.Unmarshal(raw, &stored)
	if len(stored) != 5 {
		t.Errorf("stored answers = %v", stored)
	}
	if _, ok := stored["q3"]; ok {
		t.Error("q3 must be absent, not null or empty")
	}
}

func TestProcessQnAFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	m, ai, o := setup(t)
	seedAudio(t, m, "a.mp3")
	ai.chatErr = func(string) error { return errors.New("llm down") }

	_, err := o.Process(ctx, "to_be_processed/a.mp3")
	var me *ModelCallError
	if !errors.As(err, &me) || me.Op != "qna" {
		t.Fatalf("error = %v, want qna ModelCallError", err)
	}
	if ok, _ := m.Exists(ctx, "default_qna/a.json"); ok {
		t.Error("no partial answers may be written after a failed Q&A call")
	}
	// Transcript was already persisted before the failure.
	if ok, _ := m.Exists(ctx, "transcripts/a.txt"); !ok {
		t.Error("transcript should remain")
	}
}

// Rerunning the same file overwrites the transcript in place.
func TestProcessIdempotentOverwrite(t *testing.T) {
	ctx := context.Background()
	m, ai, o := setup(t)
	seedAudio(t, m, "a.mp3")
	if _, err := o.Process(ctx, "to_be_processed/a.mp3"); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Re-stage the file and run again with new model output.
	seedAudio(t, m, "a.mp3")
	ai.transcript = "second pass transcript"
	if _, err := o.Process(ctx, "to_be_processed/a.mp3"); err != nil {
		t.Fatalf("second run: %v", err)
	}

	keys, _ := m.List(ctx, "transcripts/")
	if len(keys) != 1 {
		t.Fatalf("transcript keys = %v, want exactly one", keys)
	}
	data, _ := m.Get(ctx, "transcripts/a.txt")
	if string(data) != "second pass transcript" {
		t.Errorf("transcript = %q, want latest run's output", data)
	}
}

// File 2 of 3 fails its model call; files 1 and 3 still complete.
func TestProcessAllIsolation(t *testing.T) {
	ctx := context.Background()
	m, ai, o := setup(t)
	seedAudio(t, m, "f1.mp3")
	seedAudio(t, m, "f2.mp3")
	seedAudio(t, m, "f3.mp3")

	ai.chatErr = func(prompt string) error {
		if strings.Contains(prompt, "bad transcript") {
			return errors.New("llm rejected")
		}
		return nil
	}
	// routingAI gives f2 a distinct transcript so chatErr can target it.
	o.AI = &routingAI{inner: ai}

	batch, err := o.ProcessAll(ctx)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(batch.Items) != 3 {
		t.Fatalf("items = %d", len(batch.Items))
	}
	if batch.Succeeded() != 2 || batch.Failed() != 1 {
		t.Fatalf("succeeded=%d failed=%d", batch.Succeeded(), batch.Failed())
	}
	for _, it := range batch.Items {
		failed := it.Err != nil
		wantFail := it.Key == "to_be_processed/f2.mp3"
		if failed != wantFail {
			t.Errorf("%s: err=%v, want failure=%v", it.Key, it.Err, wantFail)
		}
	}
	if ok, _ := m.Exists(ctx, "transcripts/f1.txt"); !ok {
		t.Error("f1 transcript missing")
	}
	if ok, _ := m.Exists(ctx, "transcripts/f3.txt"); !ok {
		t.Error("f3 transcript missing")
	}
	if ok, _ := m.Exists(ctx, "default_qna/f2.json"); ok {
		t.Error("f2 answers must not exist")
	}
	if !IsRunFailure(batch.Items[1].Err) {
		t.Errorf("f2 error should be a run failure: %v", batch.Items[1].Err)
	}
}

// routingAI gives each file a distinct transcript so chatErr can target one.
type routingAI struct {
	inner *fakeAI
}

func (r *routingAI) Transcribe(ctx context.Context, fileName string, audio []byte) (string, error) {
	r.inner.transcribeCalls++
	if fileName == "f2.mp3" {
		return "bad transcript", nil
	}
	return fmt.Sprintf("transcript of %s", fileName), nil
}

func (r *routingAI) ChatCompletion(ctx context.Context, messages []openai.Message, maxTokens int, temperature float64) (string, error) {
	return r.inner.ChatCompletion(ctx, messages, maxTokens, temperature)
}

func TestGenerateAnswersForExistingTranscript(t *testing.T) {
	ctx := context.Background()
	m, _, o := setup(t)
	_ = m.Put(ctx, "transcripts/old.txt", []byte("an old transcript"), "text/plain")

	answers, warnings, err := o.GenerateAnswers(ctx, "transcripts/old.txt")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if answers.Len() != 2 || len(warnings) != 0 {
		t.Fatalf("answers=%d warnings=%v", answers.Len(), warnings)
	}
	if ok, _ := m.Exists(ctx, "default_qna/old.json"); !ok {
		t.Error("regenerated answers should be persisted")
	}
}

func TestGenerateAnswersMissingTranscript(t *testing.T) {
	_, _, o := setup(t)
	_, _, err := o.GenerateAnswers(context.Background(), "transcripts/none.txt")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
}

func TestProcessUsesBuiltinQuestionsWhenListMissing(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	ai := &fakeAI{transcript: "t", chatResponse: "1. a\n2. b\n3. c\n4. d\n5. e\n6. f"}
	o := New(m, ai, logger.New())
	seedAudio(t, m, "a.mp3")

	res, err := o.Process(ctx, "to_be_processed/a.mp3")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Answers.Len() != 6 {
		t.Errorf("answers = %d, want all six builtin questions answered", res.Answers.Len())
	}
}
