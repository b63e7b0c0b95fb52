package orchestrator

import "fmt"

// FetchError: the source object (or the question list) could not be read.
// Always fatal for the run.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Key, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// UploadError: a derived artifact could not be persisted. The transcript
// write gets one retry before this surfaces; fatal either way.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string { return fmt.Sprintf("upload %s: %v", e.Key, e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }

// ModelCallError: the transcription or Q&A call failed. Fatal, and nothing
// downstream of the failed call is written.
type ModelCallError struct {
	Op  string // "transcribe" or "qna"
	Err error
}

func (e *ModelCallError) Error() string { return fmt.Sprintf("model call %s: %v", e.Op, e.Err) }
func (e *ModelCallError) Unwrap() error { return e.Err }
