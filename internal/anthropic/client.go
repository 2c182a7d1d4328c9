package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/callingjournal/internal/llm"
)

const defaultBaseURL = "https://api.anthropic.com"

type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// SetBaseURL points the client at a different API host, e.g. a proxy or a test server.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

type request struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []llm.Message `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a message to the Anthropic API and returns the text response.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	resp, err := c.do(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", llm.ErrProvider, err)
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %w", llm.ErrProvider, err)
	}

	var b strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: empty response content", llm.ErrProvider)
	}
	return b.String(), nil
}

// Stream opens a server-sent-events completion.
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	resp, err := c.do(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return &sseStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

func (c *Client) do(ctx context.Context, req llm.Request, stream bool) (*http.Response, error) {
	temp := req.Temperature
	reqBody := request{
		Model:       c.model,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Messages:    req.Messages,
		Temperature: &temp,
		Stream:      stream,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", llm.ErrProvider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", llm.ErrProvider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: api call: %w", llm.ErrProvider, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	sentinel := llm.ErrProvider
	if resp.StatusCode == http.StatusTooManyRequests {
		sentinel = llm.ErrRateLimited
	}
	var errResp errorResponse
	if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Type != "" {
		return nil, fmt.Errorf("%w: api error %d: %s: %s", sentinel, resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
	}
	return nil, fmt.Errorf("%w: api error %d: %s", sentinel, resp.StatusCode, string(respBody))
}

type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	once    sync.Once
	done    bool
}

func (s *sseStream) Next() (string, error) {
	for !s.done && s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var evt streamEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "content_block_delta":
			if evt.Delta.Type == "text_delta" && evt.Delta.Text != "" {
				return evt.Delta.Text, nil
			}
		case "message_stop":
			s.done = true
		case "error":
			s.done = true
			return "", fmt.Errorf("%w: stream error: %s: %s", llm.ErrProvider, evt.Error.Type, evt.Error.Message)
		}
	}
	if err := s.scanner.Err(); err != nil && !s.done {
		return "", fmt.Errorf("%w: read stream: %w", llm.ErrProvider, err)
	}
	s.done = true
	return "", io.EOF
}

func (s *sseStream) Close() error {
	var err error
	s.once.Do(func() { err = s.body.Close() })
	return err
}
