package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ingestkit/docbridge/internal/nim"
)

func TestChatClientInfer(t *testing.T) {
	var gotAuth string
	var gotPayload nim.ChatPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(nim.ChatResponse{Choices: []nim.ChatChoice{
			{Message: nim.ChatMessage{Role: "assistant", Content: "year 2020 value 10"}},
		}})
	}))
	defer srv.Close()

	c, err := NewChatClient(ChatOptions{BaseURL: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := c.Infer(context.Background(), &nim.ChatPayload{
		Model:     "google/deplot",
		Messages:  []nim.ChatMessage{{Role: "user", Content: "hello"}},
		MaxTokens: 500,
	})
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if gotPayload.Model != "google/deplot" {
		t.Fatalf("forwarded model = %q", gotPayload.Model)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "year 2020 value 10" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestChatClientRetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(nim.ChatResponse{Choices: []nim.ChatChoice{
			{Message: nim.ChatMessage{Content: "ok"}},
		}})
	}))
	defer srv.Close()

	c, err := NewChatClient(ChatOptions{BaseURL: srv.URL, MaxRetries: 3})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := c.Infer(context.Background(), &nim.ChatPayload{})
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if resp.Choices[0].Message.Content != "ok" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestChatClientDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewChatClient(ChatOptions{BaseURL: srv.URL, MaxRetries: 3})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.Infer(context.Background(), &nim.ChatPayload{})
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("expected 400 failure, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestNewChatClientRequiresBaseURL(t *testing.T) {
	if _, err := NewChatClient(ChatOptions{}); err == nil {
		t.Fatal("expected error for missing base url")
	}
}
