package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/aria/internal/conversation"
	"github.com/antoniostano/aria/internal/reliability"
)

// ErrUnavailable marks retryable summarizer failures: timeouts, network
// errors and retryable HTTP statuses. Callers keep the conversation growing
// and retry on the next eligible trigger.
var ErrUnavailable = errors.New("summarizer unavailable")

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// OpenAISummarizer compacts a turn window through the chat completions API
// with a lightweight model.
type OpenAISummarizer struct {
	cfg    Config
	client *http.Client
}

func NewOpenAISummarizer(cfg Config) *OpenAISummarizer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-mini"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAISummarizer{cfg: cfg, client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, turns []conversation.Turn, language string) (string, error) {
	var convo strings.Builder
	for _, t := range turns {
		if t.Text == "" {
			continue
		}
		convo.WriteString(string(t.Role))
		convo.WriteString(": ")
		convo.WriteString(t.Text)
		convo.WriteString("\n")
	}
	if convo.Len() == 0 {
		return "", fmt.Errorf("nothing to summarize")
	}

	prompt := fmt.Sprintf(
		"Summarize the following conversation in %s as one concise paragraph "+
			"so it can serve as context for future dialogue. After the paragraph "+
			"add a line starting with \"Facts:\" listing stable facts worth "+
			"remembering (names, preferences), or \"Facts: none\".",
		languageName(language),
	)

	body, err := json.Marshal(chatRequest{
		Model:       s.cfg.Model,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: convo.String()},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, payload)
		}
		return "", fmt.Errorf("summarizer rejected request: status %d: %s", resp.StatusCode, payload)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	text := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return text, nil
}

func languageName(code string) string {
	switch code {
	case "fr":
		return "French"
	case "es":
		return "Spanish"
	case "de":
		return "German"
	case "it":
		return "Italian"
	case "", "en", "auto":
		return "English"
	default:
		return code
	}
}
