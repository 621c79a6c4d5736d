package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haricheung/sconny/internal/extract"
)

// ── normalizeBaseURL ─────────────────────────────────────────────────────────

func TestNormalizeBaseURL_StripsResponsesSuffix(t *testing.T) {
	// Strips a trailing "/v1/responses" for OpenAI
	got := normalizeBaseURL("https://api.openai.com/v1/responses", extract.OpenAIResponses)
	want := "https://api.openai.com"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeBaseURL_StripsBareV1(t *testing.T) {
	// Strips a bare trailing "/v1/" for OpenAI
	got := normalizeBaseURL("https://api.openai.com/v1/", extract.OpenAIResponses)
	want := "https://api.openai.com"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeBaseURL_StripsChatSuffixForOllama(t *testing.T) {
	// Strips "/api/chat/" for Ollama, but not "/v1"
	if got, want := normalizeBaseURL("http://127.0.0.1:11434/api/chat/", extract.OllamaChat), "http://127.0.0.1:11434"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := normalizeBaseURL("http://proxy/v1", extract.OllamaChat), "http://proxy/v1"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeBaseURL_NoSuffixUnchanged(t *testing.T) {
	// Returns the URL unchanged when no suffix is present
	got := normalizeBaseURL("https://llm.internal:8443", extract.OpenAIResponses)
	if got != "https://llm.internal:8443" {
		t.Errorf("got %q, want unchanged", got)
	}
}

func TestNormalizeBaseURL_EmptyInput(t *testing.T) {
	// Returns "" for empty input
	if got := normalizeBaseURL("", extract.OpenAIResponses); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

// ── StripThinkBlocks / StripFences ───────────────────────────────────────────

func TestStripThinkBlocks_RemovesSingleBlock(t *testing.T) {
	// Removes a single <think>...</think> block
	got := StripThinkBlocks(`<think>planning</think>{"cmd":["ls"]}`)
	if got != `{"cmd":["ls"]}` {
		t.Errorf("got %q", got)
	}
}

func TestStripThinkBlocks_RemovesMultipleBlocks(t *testing.T) {
	// Removes multiple <think>...</think> blocks
	got := StripThinkBlocks("<think>a</think>{\"x\":1}<think>b</think>")
	if got != `{"x":1}` {
		t.Errorf("got %q", got)
	}
}

func TestStripThinkBlocks_UnclosedBlockStrippedToEnd(t *testing.T) {
	// Strips an unclosed <think> block from its start to end of string
	got := StripThinkBlocks(`{"x":1} <think>never closed`)
	if got != `{"x":1}` {
		t.Errorf("got %q", got)
	}
}

func TestStripThinkBlocks_NoTagReturnedUnchanged(t *testing.T) {
	// Returns s unchanged when no <think> tag is present
	in := `{"cmd":["echo hi"]}`
	if got := StripThinkBlocks(in); got != in {
		t.Errorf("got %q, want %q", got, in)
	}
}

func TestStripFences_RemovesJSONFence(t *testing.T) {
	// ```json fences around the object are removed
	got := StripFences("```json\n{\"cmd\":[\"ls\"]}\n```")
	if got != `{"cmd":["ls"]}` {
		t.Errorf("got %q", got)
	}
}

// ── Validate ─────────────────────────────────────────────────────────────────

func TestValidate_NilWhenAllFieldsPresent(t *testing.T) {
	// Returns nil when base URL, API key and model are set
	c := New(Settings{Kind: extract.OpenAIResponses, BaseURL: "https://api.openai.com", APIKey: "sk-key", Model: "gpt-4.1"})
	if err := c.Validate(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestValidate_OllamaNeedsNoKey(t *testing.T) {
	// Ollama validates without an API key
	c := New(Settings{Kind: extract.OllamaChat, BaseURL: "http://127.0.0.1:11434", Model: "llama3.1"})
	if err := c.Validate(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestValidate_ErrorListsAllMissingFieldsCommaSeparated(t *testing.T) {
	// Lists every missing field comma-separated and names the provider
	err := New(Settings{Kind: extract.OpenAIResponses}).Validate()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "base URL, API key, model") {
		t.Errorf("expected all three fields listed, got %q", msg)
	}
	if !strings.Contains(msg, "openai") {
		t.Errorf("expected provider label in error, got %q", msg)
	}
}

// ── Generate ─────────────────────────────────────────────────────────────────

func TestGenerate_OpenAIRequestShape(t *testing.T) {
	// POSTs /v1/responses with bearer auth, json_object format and store=false; returns the raw body
	const reply = `{"output":[{"type":"message","content":[{"type":"output_text","text":"{}"}]}]}`
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = io.WriteString(w, reply)
	}))
	defer srv.Close()

	c := New(Settings{Kind: extract.OpenAIResponses, BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "gpt-4.1"})
	raw, err := c.Generate(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if raw != reply {
		t.Errorf("raw = %q, want the body verbatim", raw)
	}
	if gotPath != "/v1/responses" {
		t.Errorf("path = %q, want /v1/responses", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["model"] != "gpt-4.1" || gotBody["store"] != false {
		t.Errorf("body = %v, want model gpt-4.1 and store false", gotBody)
	}
	text, _ := gotBody["text"].(map[string]any)
	format, _ := text["format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Errorf("text.format = %v, want json_object", text)
	}
	input, _ := gotBody["input"].([]any)
	if len(input) != 2 {
		t.Fatalf("input = %v, want system and user messages", input)
	}
	if first, _ := input[0].(map[string]any); first["role"] != "system" || first["content"] != "sys" {
		t.Errorf("input[0] = %v", first)
	}
}

func TestGenerate_OllamaRequestShape(t *testing.T) {
	// POSTs /api/chat with stream=false, format=json and no Authorization header
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"{}"},"done":true}`)
	}))
	defer srv.Close()

	c := New(Settings{Kind: extract.OllamaChat, BaseURL: srv.URL, Model: "llama3.1"})
	if _, err := c.Generate(context.Background(), "sys", "user"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gotPath != "/api/chat" {
		t.Errorf("path = %q, want /api/chat", gotPath)
	}
	if gotAuth != "" {
		t.Errorf("unexpected Authorization header %q", gotAuth)
	}
	if gotBody["stream"] != false || gotBody["format"] != "json" {
		t.Errorf("body = %v, want stream false and format json", gotBody)
	}
	if msgs, _ := gotBody["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %v, want 2", gotBody["messages"])
	}
}

func TestGenerate_MissingKeyMakesNoRequest(t *testing.T) {
	// OpenAI without a key returns ErrMissingCredential and never dials
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	c := New(Settings{Kind: extract.OpenAIResponses, BaseURL: srv.URL, Model: "gpt-4.1"})
	_, err := c.Generate(context.Background(), "sys", "user")
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
	if called {
		t.Error("server was called without a key")
	}
}

func TestGenerate_NonOKIsTransportError(t *testing.T) {
	// A 401 reply yields *TransportError carrying the status and body verbatim
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	c := New(Settings{Kind: extract.OpenAIResponses, BaseURL: srv.URL, APIKey: "sk-bad", Model: "gpt-4.1"})
	_, err := c.Generate(context.Background(), "sys", "user")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.StatusCode != http.StatusUnauthorized || !strings.Contains(te.Body, "bad key") {
		t.Errorf("TransportError = %+v", te)
	}
	if !strings.Contains(err.Error(), "HTTP 401") {
		t.Errorf("error %q should carry the status", err)
	}
}

func TestGenerate_SlowServerIsTimeout(t *testing.T) {
	// A reply slower than the client timeout yields ErrTimeout
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Settings{Kind: extract.OllamaChat, BaseURL: srv.URL, Model: "llama3.1", Timeout: 100 * time.Millisecond})
	_, err := c.Generate(context.Background(), "sys", "user")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestGenerate_UnreachableIsTransportError(t *testing.T) {
	// A closed port yields *TransportError with no status code
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Settings{Kind: extract.OllamaChat, BaseURL: url, Model: "llama3.1"})
	_, err := c.Generate(context.Background(), "sys", "user")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.StatusCode != 0 || te.Err == nil {
		t.Errorf("TransportError = %+v, want wrapped cause and no status", te)
	}
}
