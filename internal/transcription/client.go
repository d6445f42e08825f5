package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/audio"
)

// ClientConfig configures the HTTP transcription client.
type ClientConfig struct {
	Endpoint string
	APIKey   string
	Language string
	Model    string
	Timeout  time.Duration
}

// ClientStats tracks cumulative request outcomes for the /stats endpoint.
type ClientStats struct {
	TotalRequests  uint64        `json:"total_requests"`
	SuccessCount   uint64        `json:"success_count"`
	FailureCount   uint64        `json:"failure_count"`
	TotalLatency   time.Duration `json:"-"`
	AverageLatency time.Duration `json:"average_latency_ns"`
}

// Client sends WAV-encoded audio to a transcription endpoint as a multipart
// upload and parses the JSON response. Safe for concurrent use.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client

	mu    sync.Mutex
	stats ClientStats
}

// NewClient creates a transcription client for the given endpoint.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type engineResponse struct {
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// Transcribe encodes the samples as WAV and performs one inference call.
// Retries are the scheduler's responsibility.
func (c *Client) Transcribe(ctx context.Context, samples []float32, sampleRate int) (EngineResult, error) {
	start := time.Now()
	result, err := c.doRequest(ctx, samples, sampleRate)
	c.record(time.Since(start), err == nil)
	if err != nil {
		return EngineResult{}, err
	}
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, samples []float32, sampleRate int) (EngineResult, error) {
	wavData, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return EngineResult{}, &EngineError{Op: "encode", Err: err}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return EngineResult{}, &EngineError{Op: "multipart", Err: err}
	}
	if _, err := part.Write(wavData); err != nil {
		return EngineResult{}, &EngineError{Op: "multipart", Err: err}
	}
	if c.cfg.Language != "" {
		if err := writer.WriteField("language", c.cfg.Language); err != nil {
			return EngineResult{}, &EngineError{Op: "multipart", Err: err}
		}
	}
	if c.cfg.Model != "" {
		if err := writer.WriteField("model", c.cfg.Model); err != nil {
			return EngineResult{}, &EngineError{Op: "multipart", Err: err}
		}
	}
	if err := writer.Close(); err != nil {
		return EngineResult{}, &EngineError{Op: "multipart", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, &body)
	if err != nil {
		return EngineResult{}, &EngineError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return EngineResult{}, &EngineError{Op: "send", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return EngineResult{}, &EngineError{Op: "read", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return EngineResult{}, &EngineError{
			Op:  "send",
			Err: fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, respBody),
		}
	}

	var parsed engineResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return EngineResult{}, &EngineError{Op: "decode", Err: err}
	}
	if parsed.Error != "" {
		return EngineResult{}, &EngineError{Op: "decode", Err: fmt.Errorf("endpoint error: %s", parsed.Error)}
	}
	return EngineResult{Text: parsed.Text, Confidence: parsed.Confidence}, nil
}

func (c *Client) record(latency time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalRequests++
	if ok {
		c.stats.SuccessCount++
	} else {
		c.stats.FailureCount++
	}
	c.stats.TotalLatency += latency
	c.stats.AverageLatency = c.stats.TotalLatency / time.Duration(c.stats.TotalRequests)
}

// Stats returns a snapshot of cumulative request statistics.
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
