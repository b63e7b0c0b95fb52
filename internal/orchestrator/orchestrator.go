// Package orchestrator drives one audio file through the whole pipeline:
// fetch -> transcribe -> persist transcript -> archive -> Q&A -> persist
// answers. The batch driver runs it over every pending file in turn.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/openai"
	"audio-insights-go/internal/qna"
	"audio-insights-go/internal/store"
)

// QnA call budget, fixed for every run.
const (
	qnaMaxTokens   = 250
	qnaTemperature = 0.6
)

// AI is the slice of the model client the orchestrator needs.
type AI interface {
	Transcribe(ctx context.Context, fileName string, audio []byte) (string, error)
	ChatCompletion(ctx context.Context, messages []openai.Message, maxTokens int, temperature float64) (string, error)
}

type Orchestrator struct {
	Store store.Store
	AI    AI
	Log   *logger.Logger
}

func New(s store.Store, ai AI, log *logger.Logger) *Orchestrator {
	return &Orchestrator{Store: s, AI: ai, Log: log}
}

// Result of one successful run. Warnings carry per-question parse misses;
// Archived is false when the best-effort move failed.
type Result struct {
	SourceKey     string        `json:"source_key"`
	TranscriptKey string        `json:"transcript_key"`
	Transcript    string        `json:"transcript"`
	AnswersKey    string        `json:"answers_key"`
	Answers       qna.Record    `json:"answers"`
	Warnings      []qna.Warning `json:"warnings,omitempty"`
	Archived      bool          `json:"archived"`
	Duration      time.Duration `json:"duration_ns"`
}

// Process runs the pipeline for one pending audio key.
//
// The transcript write is load-bearing: it gets one retry and its failure
// fails the run. The archive move is not: its failure is logged and the run
// continues, leaving a stale copy in to_be_processed/.
func (o *Orchestrator) Process(ctx context.Context, sourceKey string) (*Result, error) {
	log := o.Log.WithComponent("orchestrator").WithField("source_key", sourceKey)
	start := time.Now()

	audio, err := o.Store.Get(ctx, sourceKey)
	if err != nil {
		return nil, &FetchError{Key: sourceKey, Err: err}
	}
	log.WithField("size_bytes", len(audio)).Info("fetched audio")

	text, err := o.AI.Transcribe(ctx, store.BaseName(sourceKey), audio)
	if err != nil {
		return nil, &ModelCallError{Op: "transcribe", Err: err}
	}

	transcriptKey := store.TranscriptKey(sourceKey)
	if err := o.putWithRetry(ctx, log, transcriptKey, []byte(text), "text/plain"); err != nil {
		return nil, &UploadError{Key: transcriptKey, Err: err}
	}
	log.WithField("transcript_key", transcriptKey).Info("transcript persisted")

	archived := true
	if err := o.Store.Move(ctx, store.BaseName(sourceKey), store.FolderPending, store.FolderArchived); err != nil {
		// Transcript is already durable; a stale pending copy is acceptable.
		archived = false
		log.WithError(err).Warn("archive move failed, continuing")
	}

	questions, err := qna.DefaultQuestions(ctx, o.Store)
	if err != nil {
		return nil, &FetchError{Key: store.DefaultQuestionsKey, Err: err}
	}

	prompt := qna.BuildPrompt(text, questions)
	response, err := o.AI.ChatCompletion(ctx, []openai.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: "Answer the questions."},
	}, qnaMaxTokens, qnaTemperature)
	if err != nil {
		return nil, &ModelCallError{Op: "qna", Err: err}
	}

	answers, warnings := qna.ParseAnswers(questions, response)
	for _, w := range warnings {
		log.WithField("question_index", w.Index).Warn(w.String())
	}

	answersKey := store.QnAKey(sourceKey)
	data, err := json.Marshal(answers)
	if err != nil {
		return nil, &UploadError{Key: answersKey, Err: err}
	}
	if err := o.Store.Put(ctx, answersKey, data, "application/json"); err != nil {
		return nil, &UploadError{Key: answersKey, Err: err}
	}

	res := &Result{
		SourceKey:     sourceKey,
		TranscriptKey: transcriptKey,
		Transcript:    text,
		AnswersKey:    answersKey,
		Answers:       answers,
		Warnings:      warnings,
		Archived:      archived,
		Duration:      time.Since(start),
	}
	log.WithField("answers", answers.Len()).
		WithField("duration_ms", res.Duration.Milliseconds()).
		Info("run complete")
	return res, nil
}

// putWithRetry gives the transcript write a single second chance.
func (o *Orchestrator) putWithRetry(ctx context.Context, log *logrus.Entry, key string, data []byte, contentType string) error {
	err := o.Store.Put(ctx, key, data, contentType)
	if err == nil {
		return nil
	}
	log.WithField("key", key).WithError(err).Warn("transcript upload failed, retrying once")
	return o.Store.Put(ctx, key, data, contentType)
}

// GenerateAnswers runs the Q&A pass alone against an already-stored
// transcript, overwriting any prior answers. Used when a transcript exists
// but its default_qna/ artifact is missing.
func (o *Orchestrator) GenerateAnswers(ctx context.Context, transcriptKey string) (qna.Record, []qna.Warning, error) {
	log := o.Log.WithComponent("orchestrator").WithField("transcript_key", transcriptKey)

	text, err := o.Store.Get(ctx, transcriptKey)
	if err != nil {
		return qna.Record{}, nil, &FetchError{Key: transcriptKey, Err: err}
	}
	questions, err := qna.DefaultQuestions(ctx, o.Store)
	if err != nil {
		return qna.Record{}, nil, &FetchError{Key: store.DefaultQuestionsKey, Err: err}
	}

	prompt := qna.BuildPrompt(string(text), questions)
	response, err := o.AI.ChatCompletion(ctx, []openai.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: "Answer the questions."},
	}, qnaMaxTokens, qnaTemperature)
	if err != nil {
		return qna.Record{}, nil, &ModelCallError{Op: "qna", Err: err}
	}

	answers, warnings := qna.ParseAnswers(questions, response)
	answersKey := store.QnAKey(transcriptKey)
	data, err := json.Marshal(answers)
	if err != nil {
		return qna.Record{}, nil, &UploadError{Key: answersKey, Err: err}
	}
	if err := o.Store.Put(ctx, answersKey, data, "application/json"); err != nil {
		return qna.Record{}, nil, &UploadError{Key: answersKey, Err: err}
	}
	log.WithField("answers", answers.Len()).Info("answers regenerated")
	return answers, warnings, nil
}

// BatchItem records the outcome for one file of a batch run.
type BatchItem struct {
	Key    string
	Result *Result
	Err    error
}

type BatchResult struct {
	Started  time.Time
	Finished time.Time
	Items    []BatchItem
}

func (b *BatchResult) Succeeded() int {
	n := 0
	for _, it := range b.Items {
		if it.Err == nil {
			n++
		}
	}
	return n
}

func (b *BatchResult) Failed() int { return len(b.Items) - b.Succeeded() }

// ProcessAll lists every pending file and runs Process on each, strictly in
// sequence. One file's failure is recorded and the batch moves on.
func (o *Orchestrator) ProcessAll(ctx context.Context) (*BatchResult, error) {
	log := o.Log.WithComponent("batch")
	batch := &BatchResult{Started: time.Now()}

	keys, err := o.Store.List(ctx, store.FolderPending+"/")
	if err != nil {
		return nil, &FetchError{Key: store.FolderPending + "/", Err: err}
	}
	log.WithField("pending", len(keys)).Info("batch starting")

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		res, err := o.Process(ctx, key)
		if err != nil {
			log.WithField("source_key", key).WithError(err).Error("file failed, continuing batch")
		}
		batch.Items = append(batch.Items, BatchItem{Key: key, Result: res, Err: err})
	}
	batch.Finished = time.Now()
	log.WithField("succeeded", batch.Succeeded()).
		WithField("failed", batch.Failed()).
		Info("batch finished")
	return batch, nil
}

// IsRunFailure reports whether err is one of the orchestrator's fatal step
// errors, as opposed to a context cancellation.
func IsRunFailure(err error) bool {
	var fe *FetchError
	var ue *UploadError
	var me *ModelCallError
	return errors.As(err, &fe) || errors.As(err, &ue) || errors.As(err, &me)
}
