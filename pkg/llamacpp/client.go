// Package llamacpp talks to a llama.cpp server through its
// OpenAI-compatible chat endpoint. It backs the vision hand detector when
// no Ollama instance is available.
package llamacpp

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

	"github.com/menta2k/nailscan/pkg/client"
	"github.com/menta2k/nailscan/pkg/types"
)

const (
	DefaultURL     = "http://localhost:8080"
	chatPath       = "/v1/chat/completions"
	defaultTimeout = 5 * time.Minute
)

var errEmptyAnswer = errors.New("empty response from llama.cpp server")

// Client is a llama.cpp chat client.
type Client struct {
	base string
	http *http.Client
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type chatPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	TopP           float64         `json:"top_p,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

// sampling is the per-call generation setup.
type sampling struct {
	temperature float64
	maxTokens   int
	jsonOnly    bool
}

// NewClient returns a client for serverURL, or DefaultURL when empty.
func NewClient(serverURL string) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultURL
	}
	return &Client{
		base: strings.TrimRight(serverURL, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// SimpleQuery sends a prompt, optionally with a base64 JPEG, and returns
// the free-form answer.
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.chat(ctx, model, prompt, imgB64, sampling{temperature: 0.7, maxTokens: 2048})
}

// DetectHands asks the server for hand boxes in JSON mode and parses the
// answer.
func (c *Client) DetectHands(ctx context.Context, model, prompt, imgB64 string) (*types.HandDetection, error) {
	text, err := c.chat(ctx, model, prompt, imgB64, sampling{temperature: 0.1, maxTokens: 1024, jsonOnly: true})
	if err != nil {
		return nil, err
	}
	return client.ParseHandDetection(text)
}

func (c *Client) chat(ctx context.Context, model, prompt, imgB64 string, s sampling) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	parts := []chatPart{{Type: "text", Text: prompt}}
	if imgB64 != "" {
		parts = append(parts, chatPart{
			Type:     "image_url",
			ImageURL: &imageRef{URL: "data:image/jpeg;base64," + imgB64},
		})
	}
	content, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	req := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: content}},
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		TopP:        0.9,
	}
	if s.jsonOnly {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var resp chatResponse
	if err := c.post(ctx, chatPath, req, &resp); err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return answerText(resp.Choices[0].Message.Content)
}

// answerText accepts both content shapes servers emit: a plain string or
// a list of typed parts.
func answerText(raw json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return "", errEmptyAnswer
		}
		return text, nil
	}

	var parts []chatPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("unexpected message content: %w", err)
	}
	for _, p := range parts {
		if p.Text != "" {
			return p.Text, nil
		}
	}
	return "", errEmptyAnswer
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
