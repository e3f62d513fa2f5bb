package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestModelSelectionAndFallback(t *testing.T) {
	// mock server that returns 500 for the primary model and 200 for others
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]interface{}
		json.NewDecoder(r.Body).Decode(&p)
		model, _ := p["model"].(string)
		if model == "primary" {
			http.Error(w, "server error", 500)
			return
		}
		resp := map[string]interface{}{"choices": []map[string]interface{}{{"message": map[string]string{"content": "ok from " + model}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	os.Setenv("LLM_BASE_URL", ts.URL)
	os.Setenv("LLM_MODEL", "primary")
	os.Setenv("LLM_FALLBACK_MODEL", "local")
	defer func() {
		os.Unsetenv("LLM_BASE_URL")
		os.Unsetenv("LLM_MODEL")
		os.Unsetenv("LLM_FALLBACK_MODEL")
	}()

	client := NewClientFromEnv()
	resp, err := client.CreateChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("expected success via fallback, got err: %v", err)
	}
	if resp.Content != "ok from local" {
		t.Fatalf("unexpected content: %v", resp.Content)
	}
}

func TestPermanentError(t *testing.T) {
	// mock server that returns 401 for any request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", 401)
	}))
	defer ts.Close()

	os.Setenv("LLM_BASE_URL", ts.URL)
	os.Setenv("LLM_MODEL", "primary")
	os.Setenv("LLM_FALLBACK_MODEL", "local")
	defer func() {
		os.Unsetenv("LLM_BASE_URL")
		os.Unsetenv("LLM_MODEL")
		os.Unsetenv("LLM_FALLBACK_MODEL")
	}()

	client := NewClientFromEnv()
	_, err := client.CreateChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected permanent error, got: %v", err)
	}
}
