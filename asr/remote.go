package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RemoteEngine talks to a sidecar recognition server over HTTP. The server
// exposes POST /transcribe taking the samples and params as JSON and
// returning a Result.
type RemoteEngine struct {
	baseURL string
	client  *http.Client
}

// NewRemoteEngine points at the sidecar at baseURL. No client timeout is
// set; transcription time is bounded by the per-task context deadline.
func NewRemoteEngine(baseURL string) *RemoteEngine {
	return &RemoteEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

type transcribeRequest struct {
	SampleRate int       `json:"sample_rate"`
	Samples    []float32 `json:"samples"`
	Params     Params    `json:"params"`
}

func (e *RemoteEngine) Transcribe(ctx context.Context, samples []float32, sampleRate int, params Params) (*Result, error) {
	body, err := json.Marshal(transcribeRequest{
		SampleRate: sampleRate,
		Samples:    samples,
		Params:     params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal transcribe request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call transcribe engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcribe engine returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode transcribe response: %w", err)
	}
	return &result, nil
}
