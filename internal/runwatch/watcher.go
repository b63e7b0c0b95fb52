// Package runwatch follows one remote DAG run to a terminal state. The loop
// is a timer-driven state machine (queued -> running -> success | failed)
// instead of blocking sleeps, so cancellation and progress reporting are
// first class.
package runwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"audio-insights-go/internal/airflow"
)

// ErrRunFailed is returned when the remote run ends in the failed state. The
// watcher never retries the run.
type ErrRunFailed struct {
	RunID string
}

func (e *ErrRunFailed) Error() string {
	return fmt.Sprintf("runwatch: run %s failed", e.RunID)
}

// RunAPI is the slice of the scheduler client the watcher needs.
type RunAPI interface {
	RunState(ctx context.Context, dagID, runID string) (airflow.State, error)
	FetchResult(ctx context.Context, dagID, runID, taskID, resultKey string) (string, error)
}

// Result keys pushed by the transcription task.
const (
	transcriptResultKey = "transcript_data"
	answersResultKey    = "default_question_answers"
)

// Results of a successful run, pulled from the task's result store.
type Results struct {
	Transcript string
	Answers    map[string]string
}

type Watcher struct {
	API    RunAPI
	DagID  string
	TaskID string
	RunID  string

	// InitialDelay before the first poll, then one poll per Interval.
	InitialDelay time.Duration
	Interval     time.Duration

	// OnState, when set, observes every polled state, including the terminal
	// one.
	OnState func(airflow.State)
}

// Wait polls until the run reaches a terminal state or ctx is cancelled. On
// success it fetches the transcript and answers; on failure it returns
// *ErrRunFailed without polling again.
func (w *Watcher) Wait(ctx context.Context) (*Results, error) {
	delay := w.InitialDelay
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		state, err := w.API.RunState(ctx, w.DagID, w.RunID)
		if err != nil {
			return nil, fmt.Errorf("runwatch: poll: %w", err)
		}
		if w.OnState != nil {
			w.OnState(state)
		}

		switch state {
		case airflow.StateSuccess:
			return w.fetchResults(ctx)
		case airflow.StateFailed:
			return nil, &ErrRunFailed{RunID: w.RunID}
		default:
			timer.Reset(w.Interval)
		}
	}
}

func (w *Watcher) fetchResults(ctx context.Context) (*Results, error) {
	transcript, err := w.API.FetchResult(ctx, w.DagID, w.RunID, w.TaskID, transcriptResultKey)
	if err != nil {
		// Missing results after success are fatal, not transient.
		return nil, fmt.Errorf("runwatch: transcript result: %w", err)
	}
	rawAnswers, err := w.API.FetchResult(ctx, w.DagID, w.RunID, w.TaskID, answersResultKey)
	if err != nil {
		return nil, fmt.Errorf("runwatch: answers result: %w", err)
	}
	answers := map[string]string{}
	if err := json.Unmarshal([]byte(rawAnswers), &answers); err != nil {
		return nil, fmt.Errorf("runwatch: decode answers: %w", err)
	}
	return &Results{Transcript: transcript, Answers: answers}, nil
}
