// Package openai wraps the two model calls the pipeline makes: audio
// transcription and chat completion. Both are single-shot by contract — the
// orchestrator decides what a failure means, not this package.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Client struct {
	apiKey          string
	baseURL         string
	chatModel       string
	transcribeModel string
	http            *http.Client
	mock            bool
}

type Options struct {
	APIKey          string
	BaseURL         string
	ChatModel       string
	TranscribeModel string
}

func New(opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	chatModel := opts.ChatModel
	if chatModel == "" {
		chatModel = "gpt-3.5-turbo"
	}
	transcribeModel := opts.TranscribeModel
	if transcribeModel == "" {
		transcribeModel = "whisper-1"
	}
	return &Client{
		apiKey:          opts.APIKey,
		baseURL:         strings.TrimRight(base, "/"),
		chatModel:       chatModel,
		transcribeModel: transcribeModel,
		http:            &http.Client{Timeout: 120 * time.Second},
		mock:            os.Getenv("USE_MOCK_OPENAI") == "true",
	}
}

// Transcribe sends raw audio bytes and returns the transcribed text. This is
// the dominant-latency call of the whole pipeline.
func (c *Client) Transcribe(ctx context.Context, fileName string, audio []byte) (string, error) {
	if c.mock {
		return "MOCK TRANSCRIPT: three speakers discuss the quarterly roadmap in a neutral tone.", nil
	}
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	if err := w.WriteField("model", c.transcribeModel); err != nil {
		return "", fmt.Errorf("openai: build form: %w", err)
	}
	fw, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("openai: build form: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("openai: build form: %w", err)
	}
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &b)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai: transcribe status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("openai: decode transcribe response: %w body=%s", err, body)
	}
	return out.Text, nil
}

// ChatCompletion makes one chat call and returns the assistant's text.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, maxTokens int, temperature float64) (string, error) {
	if c.mock {
		return "1. Three\n2. Neutral", nil
	}
	payload := map[string]any{
		"model":       c.chatModel,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("openai: marshal chat payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: chat request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai: chat status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("openai: decode chat response: %w body=%s", err, body)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai: chat response had no choices: %s", body)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
