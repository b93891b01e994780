package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/theamal11z/Rex68/internal/config"
)

const enrichTemperature = 0.3

// Client is an OpenAI-compatible chat completions client used for the
// enrichment passes.
type Client struct {
	apiKey          string
	baseURL         string
	model           string
	reasoningEffort string
	maxTokens       int
	httpClient      *http.Client
}

// NewClient resolves the enrichment provider, falling back to the main
// provider and agent model for unset fields.
func NewClient(cfg *config.Config) *Client {
	timeout := time.Duration(cfg.Enrich.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultEnrichTimeoutSecs * time.Second
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
	}

	if cfg.Enrich.Provider != nil {
		c.apiKey = cfg.Enrich.Provider.APIKey
		c.baseURL = cfg.Enrich.Provider.BaseURL
	}
	if c.apiKey == "" {
		c.apiKey = cfg.Provider.APIKey
	}
	if c.baseURL == "" {
		c.baseURL = cfg.Provider.BaseURL
	}
	if cfg.Enrich.Model != "" {
		c.model = cfg.Enrich.Model
	} else {
		c.model = cfg.Agent.Model
	}
	if cfg.Enrich.MaxTokens > 0 {
		c.maxTokens = cfg.Enrich.MaxTokens
	} else {
		c.maxTokens = config.DefaultEnrichMaxTokens
	}
	c.reasoningEffort = strings.TrimSpace(cfg.Enrich.ReasoningEffort)

	return c
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", fmt.Errorf("missing enrich api key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	if baseURL == "" {
		return "", fmt.Errorf("missing enrich base url")
	}
	if c.model == "" {
		return "", fmt.Errorf("missing enrich model")
	}

	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{{
			"role":    "user",
			"content": prompt,
		}},
		"max_tokens":  c.maxTokens,
		"temperature": enrichTemperature,
	}
	if c.reasoningEffort != "" {
		body["reasoning_effort"] = c.reasoningEffort
	}

	content, statusCode, respBody, err := c.sendChatCompletion(ctx, baseURL, body)
	if err == nil {
		return content, nil
	}

	if c.reasoningEffort != "" && isReasoningEffortUnsupported(statusCode, respBody) {
		log.Printf("[llm] warning: reasoning_effort unsupported by enrich model; retrying without reasoning_effort")
		delete(body, "reasoning_effort")
		content, _, _, retryErr := c.sendChatCompletion(ctx, baseURL, body)
		if retryErr == nil {
			return content, nil
		}
		return "", retryErr
	}

	return "", err
}

func (c *Client) sendChatCompletion(ctx context.Context, baseURL string, body map[string]any) (string, int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", resp.StatusCode, respBody, fmt.Errorf("enrich model http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", resp.StatusCode, respBody, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", resp.StatusCode, respBody, fmt.Errorf("no choices: %w", ErrEmptyResponse)
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", resp.StatusCode, respBody, ErrEmptyResponse
	}
	return content, resp.StatusCode, respBody, nil
}

func isReasoningEffortUnsupported(statusCode int, respBody []byte) bool {
	if statusCode != http.StatusBadRequest && statusCode != http.StatusUnprocessableEntity {
		return false
	}

	var decoded struct {
		Error struct {
			Param   string `json:"param"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &decoded); err == nil {
		paramName := strings.ToLower(strings.TrimSpace(decoded.Error.Param))
		if paramName == "reasoning_effort" || paramName == "reasoning.effort" {
			return true
		}

		message := strings.ToLower(strings.TrimSpace(decoded.Error.Message))
		if strings.Contains(message, "reasoning_effort") || strings.Contains(message, "reasoning.effort") {
			return true
		}
	}

	bodyText := strings.ToLower(strings.TrimSpace(string(respBody)))
	return strings.Contains(bodyText, "reasoning_effort") || strings.Contains(bodyText, "reasoning.effort")
}
