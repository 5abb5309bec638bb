// Package translate converts batches of protected segments into requests
// against an AI text-generation API and parses the structured replies back
// into per-key translations. Two HTTP providers are supported — OpenAI
// (chat completions) and Google AI (Gemini generateContent) — selected at
// construction, with a shared retry/backoff policy.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Provider IDs
// ---------------------------------------------------------------------------

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Provider holds the configuration for an AI translation service.
type Provider struct {
	// ID is the provider identifier (openai, gemini).
	ID string
	// Name is the display name.
	Name string
	// BaseURL is the API base URL.
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the model identifier.
	Model string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the request timeout.
	Timeout time.Duration
}

// DefaultProviders returns the pre-configured provider definitions.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderOpenAI: {
			ID:      ProviderOpenAI,
			Name:    "OpenAI",
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 120 * time.Second,
		},
		ProviderGemini: {
			ID:      ProviderGemini,
			Name:    "Google AI (Gemini)",
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-2.5-flash-lite",
			Timeout: 120 * time.Second,
		},
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// FatalError marks a request failure that retrying cannot fix: bad
// credentials, a rejected request shape, or a misconfigured provider.
// The orchestrator aborts the whole run when it sees one.
type FatalError struct {
	Status int
	Msg    string
}

func (e *FatalError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fatal API error (status %d): %s", e.Status, e.Msg)
	}
	return "fatal API error: " + e.Msg
}

// IsFatal reports whether err wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ---------------------------------------------------------------------------
// Retry policy
// ---------------------------------------------------------------------------

// Policy controls retry behavior for transient request failures.
// The zero value gets sensible defaults: 5 attempts, 5s base delay,
// uniform jitter up to half the backoff, real clock.
type Policy struct {
	// MaxAttempts is the total number of tries per batch (default 5).
	MaxAttempts int
	// BaseDelay is the first backoff delay; it doubles per attempt (default 5s).
	BaseDelay time.Duration
	// Jitter returns the random extra to add to a backoff delay.
	// Defaults to a uniform draw in [0, d/2).
	Jitter func(d time.Duration) time.Duration
	// Sleep waits for d or until the context is done. Injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the production retry policy.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: 5 * time.Second}
}

func (p Policy) attempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 5
}

// backoff returns the delay before retrying after the given zero-based
// attempt: BaseDelay * 2^attempt plus jitter.
func (p Policy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 5 * time.Second
	}
	d := base * (1 << attempt)
	if p.Jitter != nil {
		return d + p.Jitter(d)
	}
	return d + time.Duration(rand.Int63n(int64(d/2+1)))
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ---------------------------------------------------------------------------
// Requester
// ---------------------------------------------------------------------------

// Item is one batch member: a segment key and its protected source text.
type Item struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Options configures a Requester.
type Options struct {
	// Provider is the AI provider configuration.
	Provider Provider
	// Policy is the retry policy (zero value = defaults).
	Policy Policy
	// SourceLang is the human-readable source language name (e.g. "English").
	SourceLang string
	// TargetLang is the human-readable target language name.
	TargetLang string
	// Instructions is optional project guidance appended to the system prompt.
	Instructions string
	// OnLog emits log messages during translation.
	OnLog func(format string, args ...any)
	// Verbose enables HTTP debug logging.
	Verbose bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

// Requester submits batches to one provider. It never mutates segment
// state; callers consume the returned key -> translation map.
type Requester struct {
	opts   Options
	client *http.Client
}

// NewRequester builds a Requester for the configured provider.
func NewRequester(opts Options) *Requester {
	timeout := opts.Provider.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Requester{
		opts:   opts,
		client: makeHTTPClient(opts.Provider.Proxy, timeout),
	}
}

// TranslateBatch sends one batch and returns a key -> translated-text map.
// Reply keys that were not in the request are dropped; request keys missing
// from the reply are simply absent from the result. Transient failures
// (rate limit, network, 5xx, malformed reply) are retried per the policy;
// exhaustion returns the last error. Auth and invalid-request failures
// return a FatalError immediately.
func (r *Requester) TranslateBatch(ctx context.Context, batch []Item) (map[string]string, error) {
	if len(batch) == 0 {
		return map[string]string{}, nil
	}

	systemPrompt := r.systemPrompt()
	userPrompt, err := buildUserPayload(batch)
	if err != nil {
		return nil, fmt.Errorf("building batch payload: %w", err)
	}

	endpoint, headers, body, err := buildHTTPRequest(r.opts.Provider, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	policy := r.opts.Policy
	var lastErr error

	for attempt := 0; attempt < policy.attempts(); attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if r.opts.Verbose {
			log.Printf("[DEBUG] %s attempt %d: POST %s (%d segments)",
				r.opts.Provider.Name, attempt+1, endpoint, len(batch))
		}

		text, retryAfter, err := r.send(ctx, endpoint, headers, body)
		if err != nil {
			if IsFatal(err) {
				return nil, err
			}
			lastErr = err
		} else {
			result, perr := parseReply(text, batch)
			if perr == nil {
				return result, nil
			}
			// The model is noisy with formatting: a garbled reply is
			// retryable, not fatal.
			lastErr = perr
		}

		if attempt < policy.attempts()-1 {
			wait := retryAfter
			if wait <= 0 {
				wait = policy.backoff(attempt)
			}
			r.opts.log("  retrying in %v (attempt %d/%d): %v", wait, attempt+1, policy.attempts(), lastErr)
			if err := policy.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("exhausted all %d attempts: %w", policy.attempts(), lastErr)
}

// send performs a single HTTP exchange. A positive retryAfter carries the
// provider's rate-limit hint.
func (r *Requester) send(ctx context.Context, endpoint string, headers map[string]string, body []byte) (text string, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("API request failed: %w", err)
	}
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", parseRetryDelay(respBody), fmt.Errorf("rate limited: %s", truncate(string(respBody), 300))
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusBadRequest:
		return "", 0, &FatalError{Status: resp.StatusCode, Msg: truncate(string(respBody), 500)}
	case resp.StatusCode != http.StatusOK:
		return "", 0, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	text, err = extractResponseText(respBody)
	if err != nil {
		return "", 0, err
	}
	return text, 0, nil
}

// ---------------------------------------------------------------------------
// Prompt building
// ---------------------------------------------------------------------------

// DefaultSystemPrompt is the base instruction set sent with every batch.
// {{sourceLang}} and {{targetLang}} are replaced at request time.
const DefaultSystemPrompt = `You are a professional localization engine for video game text.
You translate in-game text from {{sourceLang}} to {{targetLang}}.

GENERAL RULES
1. Technical tokens:
   - Never modify, translate or reorder technical tokens like __VAR0__, __VAR1__, __TAG0__, etc.
   - They represent placeholders or markup and must remain exactly as they are and in the same position.
   - The translation MUST contain exactly the same tokens as the source, in the same order. Do not remove them, even if you change the wording.

2. Source format:
   - Each entry has a 'key' (identifier) and a 'text' to translate.
   - Keys hint at context (sheet prefixes, _M/_F gender suffixes); use them to adapt tone and gender.

3. General constraints:
   - Do not add any new meaning, do not omit important information.
   - Keep roughly the same level of formality as the source.
   - Avoid making the text significantly longer than the source.

RESPONSE FORMAT
- Do NOT add explanations or comments.
- Answer strictly as valid JSON with this structure:
{
  "translations": [
    { "key": "KEY_FROM_INPUT", "text": "Translated text here" },
    { "key": "ANOTHER_KEY", "text": "Another translation" }
  ]
}
- Return exactly as many translations as segments provided in the input.`

// systemPrompt resolves the language placeholders and appends any project
// guidance supplied by the user.
func (r *Requester) systemPrompt() string {
	prompt := DefaultSystemPrompt
	prompt = strings.ReplaceAll(prompt, "{{sourceLang}}", r.opts.SourceLang)
	prompt = strings.ReplaceAll(prompt, "{{targetLang}}", r.opts.TargetLang)
	if guidance := strings.TrimSpace(r.opts.Instructions); guidance != "" {
		prompt += "\n\nPROJECT GUIDANCE\n" + guidance
	}
	return prompt
}

// buildUserPayload embeds the batch as a JSON list of {key, text} pairs.
func buildUserPayload(batch []Item) (string, error) {
	payload := struct {
		Segments []Item `json:"segments"`
	}{Segments: batch}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ---------------------------------------------------------------------------
// Request builders for each API format
// ---------------------------------------------------------------------------

func buildOpenAIChatRequest(model, systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model       string  `json:"model"`
		Messages    []msg   `json:"messages"`
		Temperature float64 `json:"temperature"`
		Stream      bool    `json:"stream"`
	}{
		Model: model,
		Messages: []msg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
		Stream:      false,
	}
	return json.Marshal(req)
}

func buildGeminiRequest(systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	type genConfig struct {
		Temperature      float64 `json:"temperature"`
		ResponseMimeType string  `json:"responseMimeType,omitempty"`
	}
	req := struct {
		Contents          []content `json:"contents"`
		GenerationConfig  genConfig `json:"generationConfig"`
		SystemInstruction *content  `json:"systemInstruction,omitempty"`
	}{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: userPrompt}}},
		},
		GenerationConfig: genConfig{Temperature: temperature, ResponseMimeType: "application/json"},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	return json.Marshal(req)
}

// buildHTTPRequest constructs the endpoint, headers, and body for the
// configured provider.
func buildHTTPRequest(prov Provider, systemPrompt, userPrompt string) (string, map[string]string, []byte, error) {
	headers := map[string]string{
		"Content-Type": "application/json",
	}

	var endpoint string
	var body []byte
	var err error

	switch prov.ID {
	case ProviderGemini:
		endpoint = fmt.Sprintf("%s/v1beta/models/%s:generateContent",
			strings.TrimRight(prov.BaseURL, "/"), prov.Model)
		if prov.APIKey != "" {
			headers["x-goog-api-key"] = prov.APIKey
		}
		body, err = buildGeminiRequest(systemPrompt, userPrompt, 0.0)

	default: // OpenAI-compatible chat completions
		endpoint = strings.TrimRight(prov.BaseURL, "/") + "/chat/completions"
		if prov.APIKey != "" {
			headers["Authorization"] = "Bearer " + prov.APIKey
		}
		body, err = buildOpenAIChatRequest(prov.Model, systemPrompt, userPrompt, 0.0)
	}

	if err != nil {
		return "", nil, nil, err
	}
	return endpoint, headers, body, nil
}

// ---------------------------------------------------------------------------
// Response parsers
// ---------------------------------------------------------------------------

// extractResponseText pulls the generated text out of either provider's
// response envelope.
func extractResponseText(body []byte) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}

	// Check for API error
	if errObj, ok := raw["error"]; ok {
		if errMap, ok := errObj.(map[string]any); ok {
			if msg, ok := errMap["message"].(string); ok {
				return "", fmt.Errorf("API error: %s", msg)
			}
		}
		return "", fmt.Errorf("API error: %v", errObj)
	}

	// OpenAI chat format: choices[0].message.content
	if choices, ok := raw["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				if content, ok := message["content"].(string); ok {
					return content, nil
				}
			}
		}
	}

	// Gemini format: candidates[0].content.parts[0].text
	if candidates, ok := raw["candidates"].([]any); ok && len(candidates) > 0 {
		if candidate, ok := candidates[0].(map[string]any); ok {
			if content, ok := candidate["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok && len(parts) > 0 {
					if part, ok := parts[0].(map[string]any); ok {
						if text, ok := part["text"].(string); ok {
							return text, nil
						}
					}
				}
			}
		}
	}

	return "", fmt.Errorf("could not extract text from response: %s", truncate(string(body), 500))
}

var markdownCodeBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// parseReply parses the model's reply into a key -> translation map,
// keeping only keys that were in the request.
func parseReply(content string, batch []Item) (map[string]string, error) {
	content = strings.TrimSpace(content)

	// Strip markdown code blocks if present
	if m := markdownCodeBlock.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}

	// Find the outer JSON object in possibly noisy text
	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")
	if startIdx >= 0 && endIdx > startIdx {
		content = content[startIdx : endIdx+1]
	}

	var reply struct {
		Translations []Item `json:"translations"`
	}
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return nil, fmt.Errorf("failed to parse reply as JSON: %w\nResponse: %s", err, truncate(content, 300))
	}
	if reply.Translations == nil {
		return nil, fmt.Errorf("reply has no 'translations' list: %s", truncate(content, 300))
	}

	requested := make(map[string]bool, len(batch))
	for _, item := range batch {
		requested[item.Key] = true
	}

	result := make(map[string]string, len(reply.Translations))
	for _, item := range reply.Translations {
		if requested[item.Key] {
			result[item.Key] = item.Text
		}
	}
	return result, nil
}

// parseRetryDelay extracts the retry delay from a 429 response body.
// Looks for Google's RetryInfo detail with retryDelay field.
// Returns zero when no hint is present so the caller falls back to backoff.
func parseRetryDelay(body []byte) time.Duration {
	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return 0
	}

	for _, detail := range errResp.Error.Details {
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			// Parse duration like "30s", "45.123s"
			d := strings.TrimSuffix(detail.RetryDelay, "s")
			if secs, err := strconv.ParseFloat(d, 64); err == nil {
				return time.Duration(secs*1000)*time.Millisecond + 5*time.Second
			}
		}
	}

	return 0
}

// ---------------------------------------------------------------------------
// HTTP client with proxy support
// ---------------------------------------------------------------------------

func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
