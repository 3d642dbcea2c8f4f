// Package client talks to the inference endpoints: a chat-completion HTTP
// client for the text protocol and a tensor transport for the binary
// protocol, plus the runner that drives a model adapter end to end.
package client

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

	"github.com/ingestkit/docbridge/internal/nim"
)

// ChatOptions configure the chat-completion client.
type ChatOptions struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// ChatClient posts chat-completion payloads to an OpenAI-compatible endpoint.
type ChatClient struct {
	baseURL    string
	apiKey     string
	maxRetries int
	httpClient *http.Client
}

// NewChatClient creates a chat client for the given endpoint.
func NewChatClient(opts ChatOptions) (*ChatClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: base url required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &ChatClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		maxRetries: maxRetries,
		httpClient: httpClient,
	}, nil
}

// Infer posts one chat payload and returns the decoded response. Transient
// failures (network errors and 5xx statuses) are retried with a short
// backoff; 4xx statuses fail immediately.
func (c *ChatClient) Infer(ctx context.Context, payload *nim.ChatPayload) (*nim.ChatResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("client: marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		resp, retryable, err := c.post(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func (c *ChatClient) post(ctx context.Context, body []byte) (*nim.ChatResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("client: post chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("client: chat completion status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		return nil, resp.StatusCode >= http.StatusInternalServerError, err
	}

	var parsed nim.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, false, fmt.Errorf("client: decode chat completion: %w", err)
	}
	return &parsed, false, nil
}
