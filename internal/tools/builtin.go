package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antoniostano/aria/internal/protocol"
)

// ClockTool answers "what time is it" without a model round trip to an
// external service.
type ClockTool struct {
	// Now overrides the clock in tests.
	Now func() time.Time
}

func (t *ClockTool) Name() string { return "clock" }

func (t *ClockTool) Spec() protocol.ToolSpec {
	return protocol.ToolSpec{
		Type:        "function",
		Name:        "clock",
		Description: "Returns the current local date and time.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (t *ClockTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	_ = ctx
	_ = args
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return now().Format("Monday, 2 January 2006, 15:04:05 MST"), nil
}

const httpGetMaxBody = 64 * 1024

// HTTPGetTool fetches a URL and returns a truncated snippet of the body.
// Only http and https schemes are allowed.
type HTTPGetTool struct {
	Client *http.Client
}

func (t *HTTPGetTool) Name() string { return "http_get" }

func (t *HTTPGetTool) Spec() protocol.ToolSpec {
	return protocol.ToolSpec{
		Type:        "function",
		Name:        "http_get",
		Description: "Fetches a URL over HTTP GET and returns the start of the response body.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Absolute http or https URL to fetch.",
				},
			},
			"required": []string{"url"},
		},
	}
}

func (t *HTTPGetTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("decode arguments: %w", err)
	}
	target := strings.TrimSpace(params.URL)
	if target == "" {
		return "", fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpGetMaxBody))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	text := strings.TrimSpace(string(body))
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
	}
	if text == "" {
		return fmt.Sprintf("GET %s returned status %d with an empty body.", target, resp.StatusCode), nil
	}
	return text, nil
}
