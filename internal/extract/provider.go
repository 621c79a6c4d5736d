package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ProviderKind selects the response envelope the answer is read from.
type ProviderKind int

const (
	// OpenAIResponses is the OpenAI Responses API: the answer is the text of the
	// first output entry whose type is output_text.
	OpenAIResponses ProviderKind = iota
	// OllamaChat is the Ollama /api/chat endpoint: the answer is message.content.
	OllamaChat
)

// Locator is the (marker, key) pair handed to Extract.
type Locator struct {
	Marker string
	Key    string
}

var locators = map[ProviderKind]Locator{
	OpenAIResponses: {Marker: `"type":"output_text"`, Key: "text"},
	OllamaChat:      {Marker: `"message"`, Key: "content"},
}

// Locator returns the field locator for k.
func (k ProviderKind) Locator() Locator {
	return locators[k]
}

func (k ProviderKind) String() string {
	switch k {
	case OpenAIResponses:
		return "openai"
	case OllamaChat:
		return "ollama"
	default:
		return fmt.Sprintf("ProviderKind(%d)", int(k))
	}
}

// ParseProviderKind maps a configured service name to a ProviderKind.
//
// Expectations:
//   - Accepts "openai" and "ollama", case-insensitive, surrounding space ignored
//   - Returns an error naming the value for anything else
func ParseProviderKind(s string) (ProviderKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return OpenAIResponses, nil
	case "ollama":
		return OllamaChat, nil
	default:
		return 0, fmt.Errorf("unknown service %q (want openai or ollama)", s)
	}
}

// Answer extracts the model's answer text from a raw response body of kind k.
//
// Insignificant whitespace is removed first when raw is valid JSON, so
// pretty-printed envelopes match the compact marker and key patterns. String
// contents are untouched by compaction. Bodies that are not valid JSON are
// scanned as-is.
func Answer(k ProviderKind, raw string) (string, error) {
	loc, ok := locators[k]
	if !ok {
		return "", fmt.Errorf("extract: no locator for %s", k)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err == nil {
		raw = buf.String()
	}
	return Extract(raw, loc.Marker, loc.Key)
}
