package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/haricheung/sconny/internal/extract"
)

var (
	// ErrMissingCredential is returned when the provider needs an API key and
	// none is configured.
	ErrMissingCredential = errors.New("llm: missing API key (set SCONNY_OPENAI_API_KEY or OPENAI_API_KEY)")
	// ErrTimeout is returned when the provider does not answer in time.
	ErrTimeout = errors.New("llm: request timed out")
)

// TransportError is a failed exchange with the provider: either a non-2xx
// response (StatusCode and Body set) or a request that never completed (Err set).
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm: HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("llm: http request: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Settings configures a Client.
type Settings struct {
	Kind    extract.ProviderKind
	BaseURL string
	APIKey  string // required for OpenAIResponses only
	Model   string
	Timeout time.Duration
	Store   bool // OpenAI "store" flag; false keeps requests out of provider history
}

// Client sends one system + user prompt pair to the configured provider and
// returns the raw response body.
type Client struct {
	kind       extract.ProviderKind
	baseURL    string
	apiKey     string
	model      string
	store      bool
	label      string // used in debug log lines ("openai", "ollama")
	httpClient *http.Client
}

// endpointPath returns the request path appended to the base URL for kind.
func endpointPath(kind extract.ProviderKind) string {
	if kind == extract.OllamaChat {
		return "/api/chat"
	}
	return "/v1/responses"
}

// normalizeBaseURL strips trailing slashes and any endpoint suffix already
// present on a configured base URL so the path is never doubled when the
// client appends its own.
//
// Expectations:
//   - Strips a trailing "/v1/responses" for OpenAI and "/api/chat" for Ollama
//   - Strips a bare trailing "/v1" for OpenAI
//   - Strips trailing slashes before and after the suffix
//   - Returns the URL unchanged when no suffix is present
//   - Returns "" for empty input
func normalizeBaseURL(raw string, kind extract.ProviderKind) string {
	s := strings.TrimRight(raw, "/")
	s = strings.TrimSuffix(s, endpointPath(kind))
	if kind == extract.OpenAIResponses {
		s = strings.TrimSuffix(s, "/v1")
	}
	return strings.TrimRight(s, "/")
}

// New creates a Client from s. A zero Timeout means 60 seconds.
func New(s Settings) *Client {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		kind:       s.Kind,
		baseURL:    normalizeBaseURL(s.BaseURL, s.Kind),
		apiKey:     s.APIKey,
		model:      s.Model,
		store:      s.Store,
		label:      s.Kind.String(),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Kind returns the provider the client talks to.
func (c *Client) Kind() extract.ProviderKind { return c.kind }

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Validate reports every missing setting in one comma-separated error.
//
// Expectations:
//   - Returns nil when base URL, model and (for OpenAI) API key are set
//   - Lists "base URL", "API key", "model" for each one that is missing
//   - Ollama does not require an API key
//   - The message names the provider label
func (c *Client) Validate() error {
	var missing []string
	if c.baseURL == "" {
		missing = append(missing, "base URL")
	}
	if c.kind == extract.OpenAIResponses && c.apiKey == "" {
		missing = append(missing, "API key")
	}
	if c.model == "" {
		missing = append(missing, "model")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("llm [%s]: missing %s", c.label, strings.Join(missing, ", "))
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model string    `json:"model"`
	Input []message `json:"input"`
	Text  struct {
		Format struct {
			Type string `json:"type"`
		} `json:"format"`
	} `json:"text"`
	Store bool `json:"store"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Stream   bool      `json:"stream"`
	Format   string    `json:"format"`
	Messages []message `json:"messages"`
}

func (c *Client) requestBody(system, user string) any {
	msgs := []message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	if c.kind == extract.OllamaChat {
		return chatRequest{Model: c.model, Stream: false, Format: "json", Messages: msgs}
	}
	r := responsesRequest{Model: c.model, Input: msgs, Store: c.store}
	r.Text.Format.Type = "json_object"
	return r
}

// Generate sends system and user to the provider and returns the raw response
// body. It never interprets the body and never retries.
//
// Expectations:
//   - Returns ErrMissingCredential before any network call when OpenAI has no key
//   - POSTs to {base}/v1/responses (OpenAI) or {base}/api/chat (Ollama)
//   - Sends "Authorization: Bearer <key>" only when a key is configured
//   - Returns *TransportError with status and body on a non-2xx reply
//   - Returns ErrTimeout when the client timeout or ctx deadline expires
//   - Returns *TransportError wrapping the cause for other network failures
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	if c.kind == extract.OpenAIResponses && c.apiKey == "" {
		return "", ErrMissingCredential
	}
	log.Printf("[%s] ── SYSTEM PROMPT ──────────────────────────────\n%s\n── END SYSTEM ──────────────────────────────────", c.label, system)
	log.Printf("[%s] ── USER PROMPT ─────────────────────────────────\n%s\n── END USER ────────────────────────────────────", c.label, user)

	body, err := json.Marshal(c.requestBody(system, user))
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	url := c.baseURL + endpointPath(c.kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return "", fmt.Errorf("%w after %v: %s", ErrTimeout, time.Since(start).Round(time.Millisecond), url)
		}
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return "", fmt.Errorf("%w reading response: %s", ErrTimeout, url)
		}
		return "", &TransportError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &TransportError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	log.Printf("[%s] ── RESPONSE (%d bytes, %v) ──\n%s\n── END RESPONSE ────────────────────────────────",
		c.label, len(respBody), time.Since(start).Round(time.Millisecond), respBody)
	return string(respBody), nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// StripThinkBlocks removes all <think>...</think> blocks from s.
// Reasoning models (e.g. deepseek-r1 on Ollama) emit these before the JSON
// object. The blocks are not part of structured output and must be stripped
// before JSON parsing.
//
// Expectations:
//   - Removes a single <think>...</think> block
//   - Removes multiple <think>...</think> blocks
//   - Strips an unclosed <think> block from its start to end of string
//   - Returns s unchanged when no <think> tag is present
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			// Unclosed block: strip from the opening tag to end of string.
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// StripFences removes markdown code fences (```json ... ```) from LLM output,
// and also strips <think>...</think> reasoning blocks emitted by reasoning models.
func StripFences(s string) string {
	s = StripThinkBlocks(strings.TrimSpace(s))
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
