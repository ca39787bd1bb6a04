// Package ollama runs vision prompts against an Ollama server. It is one
// of the hand detector backends.
package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/nailscan/pkg/client"
	"github.com/menta2k/nailscan/pkg/types"
)

// DefaultTimeout bounds a request when the caller's context has no deadline.
const DefaultTimeout = 300 * time.Second

// jsonFormat switches Ollama into constrained JSON output.
var jsonFormat = json.RawMessage(`"json"`)

// Client wraps the Ollama API client.
type Client struct {
	api *api.Client
}

// NewClient accepts a server URL with or without an endpoint path.
func NewClient(serverURL string) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q has no scheme or host", serverURL)
	}
	base := &url.URL{Scheme: u.Scheme, Host: u.Host}
	return &Client{api: api.NewClient(base, http.DefaultClient)}, nil
}

// SimpleQuery returns the model's free-form answer about an image.
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	msg, err := userMessage(prompt, imgB64)
	if err != nil {
		return "", err
	}
	return c.chat(ctx, &api.ChatRequest{Model: model, Messages: []api.Message{msg}})
}

// DetectHands asks for hand boxes in JSON mode. A low temperature keeps the
// coordinates stable between calls.
func (c *Client) DetectHands(ctx context.Context, model, prompt, imgB64 string) (*types.HandDetection, error) {
	msg, err := userMessage(prompt, imgB64)
	if err != nil {
		return nil, err
	}
	answer, err := c.chat(ctx, &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{msg},
		Format:   jsonFormat,
		Options:  map[string]any{"temperature": 0.1, "num_ctx": 4096},
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(answer) == "" {
		return nil, errors.New("empty response from ollama")
	}
	return client.ParseHandDetection(answer)
}

func userMessage(prompt, imgB64 string) (api.Message, error) {
	msg := api.Message{Role: "user", Content: prompt}
	if imgB64 == "" {
		return msg, nil
	}
	raw, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return msg, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	msg.Images = []api.ImageData{raw}
	return msg, nil
}

func (c *Client) chat(ctx context.Context, req *api.ChatRequest) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	stream := false
	req.Stream = &stream

	var answer strings.Builder
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		answer.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}
	return answer.String(), nil
}
