// Package store is the gateway to the audio bucket. One bucket, four logical
// folders: unprocessed audio sits under to_be_processed/, processed audio under
// archived/, derived artifacts under transcripts/ and default_qna/.
package store

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

var ErrNoObject = errors.New("store: no object")

const (
	FolderPending     = "to_be_processed"
	FolderArchived    = "archived"
	FolderTranscripts = "transcripts"
	FolderQnA         = "default_qna"
	FolderReports     = "reports"

	// Key holding the canonical question list used by the Q&A pass.
	DefaultQuestionsKey = FolderQnA + "/default_questions.json"
)

type Store interface {
	// Put overwrites whatever is already at key.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns ErrNoObject when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns keys under prefix, excluding the folder marker itself.
	List(ctx context.Context, prefix string) ([]string, error)
	// Exists reports presence; absence is (false, nil), an error means the
	// check itself could not be performed.
	Exists(ctx context.Context, key string) (bool, error)
	// Move relocates fromFolder/baseName to toFolder/baseName as copy then
	// delete. Not atomic: a failure after the copy leaves the object present
	// in both folders, and callers must tolerate that. The delete only runs
	// once the copy has been verified, so retrying a whole Move is safe.
	Move(ctx context.Context, baseName, fromFolder, toFolder string) error
	// SignedURL issues a time-limited read URL for direct playback.
	SignedURL(key string, ttl time.Duration) (string, error)
}

// BaseName strips the folder prefix: "to_be_processed/a.mp3" -> "a.mp3".
func BaseName(key string) string {
	return path.Base(key)
}

// Stem strips folder and extension: "to_be_processed/a.mp3" -> "a".
func Stem(key string) string {
	b := path.Base(key)
	return strings.TrimSuffix(b, path.Ext(b))
}

// TranscriptKey maps an audio key to its transcript artifact.
func TranscriptKey(audioKey string) string {
	return FolderTranscripts + "/" + Stem(audioKey) + ".txt"
}

// QnAKey maps an audio or transcript key to its stored answers.
func QnAKey(key string) string {
	return FolderQnA + "/" + Stem(key) + ".json"
}

// PendingKey prepends the pending folder to a bare file name.
func PendingKey(fileName string) string {
	return FolderPending + "/" + fileName
}
