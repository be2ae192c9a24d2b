// internal/service/ai/openai.go
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"audiotricks-service/internal/domain/job"

	"go.uber.org/zap"
)

const (
	openaiMaxRetries   = 3
	openaiInitialDelay = 1 * time.Second
)

type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	ChatModel          string
}

// OpenAIClient covers Whisper transcription and the chat completions used
// for summaries and analysis.
type OpenAIClient struct {
	cfg          OpenAIConfig
	client       *http.Client
	initialDelay time.Duration
	logger       *zap.Logger
}

func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAIClient{
		cfg:          cfg,
		client:       &http.Client{Timeout: 10 * time.Minute},
		initialDelay: openaiInitialDelay,
		logger:       logger,
	}
}

type openaiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe sends the audio to Whisper with verbose_json so the duration
// comes back for minute metering.
func (c *OpenAIClient) Transcribe(ctx context.Context, filename string, audio io.Reader) (*job.Transcription, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("model", c.cfg.TranscriptionModel)
	_ = mw.WriteField("response_format", "verbose_json")
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}

	raw, err := c.post(ctx, "/audio/transcriptions", mw.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}

	var resp whisperResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode transcription: %w", err)
	}

	t := &job.Transcription{
		Text:            strings.TrimSpace(resp.Text),
		Language:        resp.Language,
		DurationSeconds: resp.Duration,
	}
	for _, s := range resp.Segments {
		t.Segments = append(t.Segments, job.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	return t, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

const summaryPrompt = `Summarize the transcript. Answer with a JSON object {"summary": string, "key_points": [string]}.`

const analysisPrompt = `Analyze the transcript. Answer with a JSON object {"sentiment": "positive"|"neutral"|"negative", "topics": [string], "action_items": [string]}.`

func (c *OpenAIClient) Summarize(ctx context.Context, transcript string) (*job.Summary, error) {
	var out struct {
		Summary   string   `json:"summary"`
		KeyPoints []string `json:"key_points"`
	}
	tokens, err := c.chatJSON(ctx, summaryPrompt, transcript, &out)
	if err != nil {
		return nil, err
	}
	return &job.Summary{Text: out.Summary, KeyPoints: out.KeyPoints, TokensUsed: tokens}, nil
}

func (c *OpenAIClient) Analyze(ctx context.Context, transcript string) (*job.Analysis, error) {
	var out struct {
		Sentiment   string   `json:"sentiment"`
		Topics      []string `json:"topics"`
		ActionItems []string `json:"action_items"`
	}
	tokens, err := c.chatJSON(ctx, analysisPrompt, transcript, &out)
	if err != nil {
		return nil, err
	}
	return &job.Analysis{Sentiment: out.Sentiment, Topics: out.Topics, ActionItems: out.ActionItems, TokensUsed: tokens}, nil
}

func (c *OpenAIClient) chatJSON(ctx context.Context, system, user string, out interface{}) (int64, error) {
	req := chatRequest{
		Model: c.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.2,
	}
	req.ResponseFormat.Type = "json_object"

	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	raw, err := c.post(ctx, "/chat/completions", "application/json", body)
	if err != nil {
		return 0, err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("failed to decode completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("completion returned no choices")
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		return 0, fmt.Errorf("completion is not the requested JSON: %w", err)
	}
	return resp.Usage.TotalTokens, nil
}

// post retries 429 and 5xx answers with exponential backoff: 1s, 2s, 4s.
func (c *OpenAIClient) post(ctx context.Context, path, contentType string, body []byte) ([]byte, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key not configured")
	}

	var lastErr error
	for attempt := 0; attempt < openaiMaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.initialDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Content-Type", contentType)

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		var apiErr openaiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			lastErr = fmt.Errorf("OpenAI API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		} else {
			lastErr = fmt.Errorf("OpenAI API error (%d): %s", resp.StatusCode, string(respBody))
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.logger.Warn("openai request failed, retrying",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return nil, lastErr
	}
	return nil, lastErr
}
