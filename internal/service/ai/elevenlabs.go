// internal/service/ai/elevenlabs.go
package ai

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

type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	VoiceID string
}

type ElevenLabsClient struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ElevenLabsClient{cfg: cfg, client: &http.Client{Timeout: 2 * time.Minute}}
}

type speechRequest struct {
	Text          string `json:"text"`
	ModelID       string `json:"model_id"`
	VoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
	} `json:"voice_settings"`
}

// Speech returns an audio/mpeg stream; the caller closes it.
func (c *ElevenLabsClient) Speech(ctx context.Context, text string) (io.ReadCloser, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs api key not configured")
	}

	req := speechRequest{Text: text, ModelID: "eleven_multilingual_v2"}
	req.VoiceSettings.Stability = 0.5
	req.VoiceSettings.SimilarityBoost = 0.75
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/text-to-speech/"+c.cfg.VoiceID, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ElevenLabs API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}
