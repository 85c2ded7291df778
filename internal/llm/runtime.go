// Package llm is the local generation runtime (C5): a single active model
// spoken to over an Ollama-compatible HTTP endpoint, with a curated
// download catalog and a deterministic fallback path when no model is
// loaded. Grounded on pkg/ai/ollama.go for the HTTP/JSON request shape and
// on original_source/src-tauri/src/llm/{summarizer,model_manager}.rs for
// prompt families, adaptive budgets, and fallback heuristics.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mailengine/internal/apperr"
	"mailengine/internal/eventbus"
)

// Params configures one generate call.
type Params struct {
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// Runtime is the process-wide generator. Only one generate may run at a
// time, enforced by a single-slot semaphore matching SPEC_FULL.md §5's
// activation lock.
type Runtime struct {
	baseURL string
	bus     *eventbus.Bus
	client  *http.Client

	mu           sync.Mutex
	activeModel  string
	activeFamily Family
	slot         chan struct{}

	generating int32
}

func NewRuntime(baseURL string, bus *eventbus.Bus) *Runtime {
	return &Runtime{
		baseURL: baseURL,
		bus:     bus,
		client:  &http.Client{Timeout: 5 * time.Minute},
		slot:    make(chan struct{}, 1),
	}
}

// Activate records which downloaded model Ollama should be told to load on
// the next generate call. Ollama itself lazily loads models by name, so
// there is no separate "load into memory" round trip here.
func (r *Runtime) Activate(desc ModelDescriptor) {
	r.mu.Lock()
	r.activeModel = desc.ID
	r.activeFamily = DetectFamily(desc.Filename)
	r.mu.Unlock()
}

// Deactivate clears the active model, forcing every subsequent call onto
// the deterministic fallback path.
func (r *Runtime) Deactivate() {
	r.mu.Lock()
	r.activeModel = ""
	r.mu.Unlock()
}

// IsReady reports whether a model is active and generate() will call the
// runtime instead of falling back.
func (r *Runtime) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeModel != ""
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate streams tokens from the active model, calling onToken for each
// one and publishing the same token on eventbus.TopicAIToken for consumers
// that only watch the bus. Returns the full concatenated text.
func (r *Runtime) Generate(ctx context.Context, prompt string, params Params, onToken func(string)) (string, error) {
	if !atomic.CompareAndSwapInt32(&r.generating, 0, 1) {
		return "", apperr.Wrap(apperr.ErrBusy, "a generation is already in flight")
	}
	defer atomic.StoreInt32(&r.generating, 0)

	r.mu.Lock()
	model := r.activeModel
	r.mu.Unlock()
	if model == "" {
		return "", apperr.Wrap(apperr.ErrModelUnavailable, "no model activated")
	}

	stop := params.Stop
	if len(stop) == 0 {
		stop = StopSequences
	}
	options := map[string]any{"num_predict": params.MaxTokens, "stop": stop}
	if params.Temperature > 0 {
		options["temperature"] = params.Temperature
	}

	reqBody, err := json.Marshal(ollamaGenerateRequest{Model: model, Prompt: prompt, Stream: true, Options: options})
	if err != nil {
		return "", apperr.Wrap(apperr.ErrParse, "encoding generate request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", apperr.Wrap(apperr.ErrParse, "building generate request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrTransportTransient, "calling llm runtime")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apperr.Wrap(apperr.ErrTransportTransient, "llm runtime returned %s", resp.Status)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk ollamaGenerateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Response != "" {
			full.WriteString(chunk.Response)
			if onToken != nil {
				onToken(chunk.Response)
			}
			r.bus.Publish(eventbus.TopicAIToken, map[string]string{"token": chunk.Response})
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), apperr.Wrap(apperr.ErrTransportTransient, "reading llm stream")
	}
	return full.String(), nil
}

// FamilyPrompt formats a system+user pair using the active model's family
// template, or the generic ChatML shape if no model is active.
func (r *Runtime) FamilyPrompt(system, user string) string {
	r.mu.Lock()
	family := r.activeFamily
	r.mu.Unlock()
	return FormatPrompt(family, system, user)
}

// --- Deterministic fallback path, used by C7 when IsReady() is false ---

var htmlBRRE = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>`)
var htmlTagRE = regexp.MustCompile(`<[^>]*>`)

// StripHTML mirrors strip_html in summarizer.rs: line breaks before tags
// are collapsed, then every tag is removed, then whitespace is normalized.
func StripHTML(html string) string {
	replaced := htmlBRRE.ReplaceAllString(html, "\n")
	stripped := htmlTagRE.ReplaceAllString(replaced, "")
	return strings.Join(strings.Fields(stripped), " ")
}

// SimpleSummary mirrors simple_summary: an adaptive-length word preview
// prefixed with the sender and subject.
func SimpleSummary(subject, from, bodyText string) string {
	words := strings.Fields(bodyText)
	sender := from
	if idx := strings.Index(from, "<"); idx >= 0 {
		sender = strings.TrimSpace(from[:idx])
	}

	previewWords := previewWordsForCount(len(words))
	if len(words) > previewWords {
		return fmt.Sprintf("Email from %s regarding %q: %s...", sender, subject, strings.Join(words[:previewWords], " "))
	}
	return fmt.Sprintf("Email from %s regarding %q: %s", sender, subject, strings.Join(words, " "))
}

func previewWordsForCount(wordCount int) int {
	switch {
	case wordCount <= 50:
		return wordCount
	case wordCount <= 150:
		return 40
	case wordCount <= 400:
		return 60
	case wordCount <= 800:
		return 80
	default:
		return 100
	}
}

// SimpleInsights mirrors simple_insights's keyword-triggered insight lines.
func SimpleInsights(subject, bodyText string) []string {
	combined := strings.ToLower(subject + " " + bodyText)
	var insights []string
	if strings.Contains(combined, "urgent") || strings.Contains(combined, "asap") {
		insights = append(insights, "Urgent: requires immediate attention")
	}
	if strings.Contains(combined, "meeting") || strings.Contains(combined, "call") || strings.Contains(combined, "schedule") {
		insights = append(insights, "Action: schedule or attend meeting")
	}
	if strings.Contains(combined, "deadline") || strings.Contains(combined, "due date") {
		insights = append(insights, "Deadline: time-sensitive task")
	}
	if strings.Contains(combined, "?") {
		insights = append(insights, "Requires response: questions asked")
	}
	if strings.Contains(combined, "invoice") || strings.Contains(combined, "payment") || strings.Contains(combined, "$") {
		insights = append(insights, "Financial: invoice or payment mentioned")
	}
	return insights
}
