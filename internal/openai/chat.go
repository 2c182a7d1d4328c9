package openai

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

const defaultBaseURL = "https://api.openai.com/v1"

// Client talks to the OpenAI chat completions and embeddings endpoints.
type Client struct {
	apiKey         string
	model          string
	embeddingModel string
	baseURL        string
	client         *http.Client
}

func NewClient(apiKey, model, embeddingModel string) *Client {
	return &Client{
		apiKey:         apiKey,
		model:          model,
		embeddingModel: embeddingModel,
		baseURL:        defaultBaseURL,
		client:         &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	resp, err := c.post(ctx, "/chat/completions", c.chatBody(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", llm.ErrProvider, err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty response content", llm.ErrProvider)
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	resp, err := c.post(ctx, "/chat/completions", c.chatBody(req, true))
	if err != nil {
		return nil, err
	}
	return &chunkStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// chatBody folds the system instruction into the message list, which is how
// the chat completions API expects it.
func (c *Client) chatBody(req llm.Request, stream bool) chatRequest {
	msgs := make([]llm.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, req.Messages...)
	return chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", llm.ErrProvider)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", llm.ErrProvider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", llm.ErrProvider, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: HTTP request failed: %w", llm.ErrProvider, err)
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
	var e apiError
	if json.Unmarshal(respBody, &e) == nil && e.Error.Message != "" {
		return nil, fmt.Errorf("%w: OpenAI API error (%d): %s", sentinel, resp.StatusCode, e.Error.Message)
	}
	return nil, fmt.Errorf("%w: OpenAI API error (%d): %s", sentinel, resp.StatusCode, string(respBody))
}

type chunkStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	once    sync.Once
	done    bool
}

func (s *chunkStream) Next() (string, error) {
	for !s.done && s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			break
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			return chunk.Choices[0].Delta.Content, nil
		}
	}
	if err := s.scanner.Err(); err != nil && !s.done {
		return "", fmt.Errorf("%w: read stream: %w", llm.ErrProvider, err)
	}
	s.done = true
	return "", io.EOF
}

func (s *chunkStream) Close() error {
	var err error
	s.once.Do(func() { err = s.body.Close() })
	return err
}
