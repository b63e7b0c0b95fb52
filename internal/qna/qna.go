// Package qna builds the Q&A prompts and parses the model's numbered answers
// into a typed record.
package qna

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"audio-insights-go/internal/store"
)

// Fallback when default_qna/default_questions.json is absent from the bucket.
var builtinQuestions = []string{
	"How many speakers are there in the input string?",
	"What is the tone or sentiment of the input string?",
	"What is the purpose of the input string?",
	"What is the audience for the input string?",
	"Can you identify the key discussion points and decisions made during the meeting?",
	"Could you analyze the sentiment of the participants throughout the meeting and identify any points of disagreement or consensus?",
}

// DefaultQuestions loads the canonical question list from the bucket, falling
// back to the built-in list when the key does not exist.
func DefaultQuestions(ctx context.Context, s store.Store) ([]string, error) {
	data, err := s.Get(ctx, store.DefaultQuestionsKey)
	if errors.Is(err, store.ErrNoObject) {
		out := make([]string, len(builtinQuestions))
		copy(out, builtinQuestions)
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("qna: load default questions: %w", err)
	}
	var questions []string
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("qna: decode default questions: %w", err)
	}
	return questions, nil
}

// BuildPrompt embeds the transcript and the numbered question list into one
// prompt; the model is expected to answer every question in one response.
func BuildPrompt(transcript string, questions []string) string {
	numbered := make([]string, len(questions))
	for i, q := range questions {
		numbered[i] = fmt.Sprintf("%d. %s", i+1, q)
	}
	return fmt.Sprintf(
		"Analyze the following input string and answer the default questions below:\n\nInput String: %s\n\nQuestions:\n%s\n\n",
		transcript, strings.Join(numbered, "\n"))
}

// BuildChatPrompt is the follow-up format: transcript, prior turns, then the
// new question with the assistant's line left open.
func BuildChatPrompt(transcript string, history []Turn, question string) string {
	var b strings.Builder
	b.WriteString(transcript)
	b.WriteString("\n\n")
	for _, t := range history {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	fmt.Fprintf(&b, "User: %s\nAssistant:", question)
	return b.String()
}

// Turn is one half of a conversation exchange.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Warning records one question whose answer line did not match the expected
// numbering. Non-fatal by contract.
type Warning struct {
	Index    int    `json:"index"`
	Question string `json:"question"`
	Reason   string `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("question %d (%s): %s", w.Index+1, w.Question, w.Reason)
}

// Record is an ordered question -> answer mapping. Order follows the question
// list in effect at generation time, and survives JSON marshalling.
type Record struct {
	pairs []pair
}

type pair struct {
	question string
	answer   string
}

func (r *Record) Set(question, answer string) {
	for i := range r.pairs {
		if r.pairs[i].question == question {
			r.pairs[i].answer = answer
			return
		}
	}
	r.pairs = append(r.pairs, pair{question: question, answer: answer})
}

// Answer returns the stored answer; ok is false for questions that were
// omitted from the record.
func (r *Record) Answer(question string) (string, bool) {
	for _, p := range r.pairs {
		if p.question == question {
			return p.answer, true
		}
	}
	return "", false
}

func (r *Record) Questions() []string {
	out := make([]string, len(r.pairs))
	for i, p := range r.pairs {
		out[i] = p.question
	}
	return out
}

func (r *Record) Len() int { return len(r.pairs) }

// MarshalJSON emits a JSON object whose keys keep insertion order.
func (r Record) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, p := range r.pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(p.question)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.answer)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// ParseAnswers applies the positional grammar: the answer to question i must
// be on line i and start with "<i+1>. ". Lines that fail the check produce a
// warning and the question is omitted — never an error. The parse is
// positional, not semantic: a model that reorders or merges answer lines will
// silently attach text to the wrong question.
func ParseAnswers(questions []string, response string) (Record, []Warning) {
	lines := strings.Split(strings.TrimSpace(response), "\n")
	var rec Record
	var warnings []Warning
	for i, q := range questions {
		if i >= len(lines) {
			warnings = append(warnings, Warning{Index: i, Question: q, Reason: "no answer line"})
			continue
		}
		prefix := fmt.Sprintf("%d. ", i+1)
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, prefix) {
			warnings = append(warnings, Warning{
				Index:    i,
				Question: q,
				Reason:   fmt.Sprintf("line %q does not start with %q", line, prefix),
			})
			continue
		}
		rec.Set(q, strings.TrimSpace(strings.TrimPrefix(line, prefix)))
	}
	return rec, warnings
}
