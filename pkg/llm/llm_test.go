// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestScriptedMockProvider(t *testing.T) {
	mock := NewScriptedMockProvider("first", "second")
	mock.AddError(errors.New("overloaded"))

	if _, err := mock.Chat(context.Background(), ChatRequest{}); err == nil || err.Error() != "overloaded" {
		t.Fatalf("expected queued error first, got %v", err)
	}
	resp, err := mock.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "first" {
		t.Errorf("expected 'first', got %q", resp.Content)
	}
	if mock.Calls() != 2 || len(mock.Requests) != 2 {
		t.Errorf("expected 2 recorded calls")
	}
	mock.Chat(context.Background(), ChatRequest{})
	if _, err := mock.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Errorf("expected error when script is exhausted")
	}
}

func TestScriptedMockProviderHonoursContext(t *testing.T) {
	mock := NewScriptedMockProvider("never")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mock.Chat(ctx, ChatRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAPIError(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("call failed: %w", &APIError{Provider: "ollama", StatusCode: 429, Message: "slow down", Err: cause})
	code, ok := StatusCode(err)
	if !ok || code != 429 {
		t.Fatalf("expected 429, got %d %v", code, ok)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause in chain")
	}
	if _, ok := StatusCode(errors.New("plain")); ok {
		t.Errorf("plain errors carry no status")
	}
}

func TestOllamaChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "llama3" || req.Stream {
			t.Errorf("unexpected request %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]any{"role": "assistant", "content": "pong"},
			"done":              true,
			"eval_count":        3,
			"prompt_eval_count": 4,
		})
	}))
	defer server.Close()

	p := NewOllama(server.URL+"/", "llama3")
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "ping"}}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "pong" || resp.Usage.TotalTokens != 7 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestOllamaChatErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"model is loading"}`))
	}))
	defer server.Close()

	_, err := NewOllama(server.URL, "llama3").Chat(context.Background(), ChatRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Message != "model is loading" {
		t.Errorf("unexpected api error %+v", apiErr)
	}
}
