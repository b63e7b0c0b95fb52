// Package airflow is a minimal client for the scheduler's REST API: trigger a
// DAG run, read its state, and pull task results (xcom values) once it is done.
package airflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrResultNotFound means the xcom entry does not exist (yet). Expected while
// the run is still in flight; fatal if seen after a successful run.
var ErrResultNotFound = errors.New("airflow: result not found")

// State of a DAG run as reported by the scheduler.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

// RunInfo identifies one triggered DAG run.
type RunInfo struct {
	DagRunID      string `json:"dag_run_id"`
	ExecutionDate string `json:"execution_date"`
}

// TriggerError carries the scheduler's response when a trigger is rejected.
type TriggerError struct {
	StatusCode int
	Body       string
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("airflow: trigger rejected: status=%d body=%s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
}

func New(baseURL, user, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		user:     user,
		password: password,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Trigger starts a run of dagID with conf forwarded verbatim.
func (c *Client) Trigger(ctx context.Context, dagID string, conf map[string]any) (RunInfo, error) {
	body, err := json.Marshal(map[string]any{"conf": conf})
	if err != nil {
		return RunInfo{}, fmt.Errorf("airflow: marshal conf: %w", err)
	}
	url := fmt.Sprintf("%s/api/v1/dags/%s/dagRuns", c.baseURL, dagID)

	var info RunInfo
	err = c.doJSON(ctx, http.MethodPost, url, body, &info, func(status int, respBody []byte) error {
		if status == http.StatusOK || status == http.StatusCreated {
			return nil
		}
		return &TriggerError{StatusCode: status, Body: string(respBody)}
	})
	if err != nil {
		return RunInfo{}, err
	}
	return info, nil
}

// RunState performs exactly one state request; the retry/poll loop belongs to
// the caller.
func (c *Client) RunState(ctx context.Context, dagID, runID string) (State, error) {
	url := fmt.Sprintf("%s/api/v1/dags/%s/dagRuns/%s", c.baseURL, dagID, runID)
	var out struct {
		State string `json:"state"`
	}
	err := c.doJSON(ctx, http.MethodGet, url, nil, &out, nil)
	if err != nil {
		return "", err
	}
	return State(out.State), nil
}

// FetchResult reads one xcom value produced by a task of the run. Values may
// be plain strings or JSON documents; either way the raw text is returned.
func (c *Client) FetchResult(ctx context.Context, dagID, runID, taskID, resultKey string) (string, error) {
	url := fmt.Sprintf("%s/api/v1/dags/%s/dagRuns/%s/taskInstances/%s/xcomEntries/%s",
		c.baseURL, dagID, runID, taskID, resultKey)
	var out struct {
		Value json.RawMessage `json:"value"`
	}
	err := c.doJSON(ctx, http.MethodGet, url, nil, &out, func(status int, _ []byte) error {
		if status == http.StatusNotFound {
			return ErrResultNotFound
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	// A quoted JSON string unwraps to its contents; anything else (an object,
	// a number) is handed back as raw JSON text.
	var s string
	if json.Unmarshal(out.Value, &s) == nil {
		return s, nil
	}
	return string(out.Value), nil
}

// doJSON issues one request with exponential backoff on transport errors and
// 5xx responses. 4xx responses are permanent. checkStatus, when set, may remap
// a status to a typed error before the default handling runs.
func (c *Client) doJSON(ctx context.Context, method, url string, body []byte, target any, checkStatus func(int, []byte) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 20 * time.Second

	op := func() error {
		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Cache-Control", "no-cache")
		if c.user != "" {
			req.SetBasicAuth(c.user, c.password)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		respBody := new(bytes.Buffer)
		_, _ = respBody.ReadFrom(resp.Body)

		if checkStatus != nil {
			if serr := checkStatus(resp.StatusCode, respBody.Bytes()); serr != nil {
				if resp.StatusCode >= 500 {
					return serr
				}
				return backoff.Permanent(serr)
			}
			if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
				return decodeInto(respBody.Bytes(), target)
			}
			if resp.StatusCode >= 500 {
				return fmt.Errorf("airflow: server error: %s", respBody.String())
			}
			return backoff.Permanent(fmt.Errorf("airflow: unexpected status %d: %s", resp.StatusCode, respBody.String()))
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("airflow: server error: %s", respBody.String())
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return backoff.Permanent(fmt.Errorf("airflow: unexpected status %d: %s", resp.StatusCode, respBody.String()))
		}
		return decodeInto(respBody.Bytes(), target)
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return err
	}
	return nil
}

func decodeInto(body []byte, target any) error {
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return backoff.Permanent(fmt.Errorf("airflow: decode response: %w body=%s", err, body))
	}
	return nil
}
