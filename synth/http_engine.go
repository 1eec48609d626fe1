package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	speechEndpoint = "/audio/speech"
	healthEndpoint = "/health"

	DefaultModel   = "tts-1"
	DefaultVoice   = "alloy"
	defaultTimeout = 120 * time.Second
)

// BuiltinVoices are the voice ids every OpenAI-compatible engine accepts.
var BuiltinVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// HTTPEngine talks to an OpenAI-compatible /audio/speech endpoint. Local
// servers (Coqui, Piper, XTTS gateways) expose the same route.
type HTTPEngine struct {
	baseURL      string
	apiKey       string
	model        string
	defaultVoice string
	client       *http.Client
}

type HTTPOption func(*HTTPEngine)

func WithAPIKey(key string) HTTPOption {
	return func(e *HTTPEngine) { e.apiKey = key }
}

func WithModel(model string) HTTPOption {
	return func(e *HTTPEngine) {
		if model != "" {
			e.model = model
		}
	}
}

func WithDefaultVoice(voice string) HTTPOption {
	return func(e *HTTPEngine) {
		if voice != "" {
			e.defaultVoice = voice
		}
	}
}

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(e *HTTPEngine) { e.client = client }
}

func WithTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPEngine) {
		if d > 0 {
			e.client.Timeout = d
		}
	}
}

func NewHTTPEngine(baseURL string, opts ...HTTPOption) *HTTPEngine {
	e := &HTTPEngine{
		baseURL:      strings.TrimRight(baseURL, "/"),
		model:        DefaultModel,
		defaultVoice: DefaultVoice,
		client:       &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Synthesize returns an MP3 stream for text.
func (e *HTTPEngine) Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if voice == "" {
		voice = e.defaultVoice
	}

	body, err := json.Marshal(speechRequest{
		Model:          e.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+speechEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &EngineError{Message: "request failed", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, e.handleError(resp)
	}

	return resp.Body, nil
}

func (e *HTTPEngine) handleError(resp *http.Response) error {
	engineErr := &EngineError{StatusCode: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		engineErr.Message = parsed.Error.Message
	} else {
		engineErr.Message = strings.TrimSpace(string(raw))
	}
	return engineErr
}

// HealthCheck calls the engine's health route.
func (e *HTTPEngine) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+healthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("speech engine unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("speech engine health returned %d", resp.StatusCode)
	}
	return nil
}
