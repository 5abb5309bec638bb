package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// parseReply
// ---------------------------------------------------------------------------

func batchOf(keys ...string) []Item {
	batch := make([]Item, len(keys))
	for i, k := range keys {
		batch[i] = Item{Key: k, Text: "text " + k}
	}
	return batch
}

func TestParseReply_Clean(t *testing.T) {
	raw := `{"translations": [{"key": "A", "text": "Olá"}, {"key": "B", "text": "Adeus"}]}`
	got, err := parseReply(raw, batchOf("A", "B"))
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if got["A"] != "Olá" || got["B"] != "Adeus" {
		t.Errorf("got %v", got)
	}
}

func TestParseReply_MarkdownFences(t *testing.T) {
	raw := "```json\n{\"translations\": [{\"key\": \"A\", \"text\": \"Olá\"}]}\n```"
	got, err := parseReply(raw, batchOf("A"))
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if got["A"] != "Olá" {
		t.Errorf("got %v", got)
	}
}

func TestParseReply_NoisySurroundingText(t *testing.T) {
	raw := `Here are your translations: {"translations": [{"key": "A", "text": "Olá"}]} Hope that helps!`
	got, err := parseReply(raw, batchOf("A"))
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if got["A"] != "Olá" {
		t.Errorf("got %v", got)
	}
}

func TestParseReply_DropsUnknownKeys(t *testing.T) {
	raw := `{"translations": [{"key": "A", "text": "Olá"}, {"key": "GHOST", "text": "Boo"}]}`
	got, err := parseReply(raw, batchOf("A"))
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if _, ok := got["GHOST"]; ok {
		t.Error("unknown key should be dropped")
	}
	if len(got) != 1 {
		t.Errorf("got %v", got)
	}
}

func TestParseReply_MissingKeysAbsent(t *testing.T) {
	raw := `{"translations": [{"key": "A", "text": "Olá"}]}`
	got, err := parseReply(raw, batchOf("A", "B"))
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if _, ok := got["B"]; ok {
		t.Error("key B should be absent, not empty")
	}
}

func TestParseReply_InvalidJSON(t *testing.T) {
	if _, err := parseReply("sorry, I can't do that", batchOf("A")); err == nil {
		t.Fatal("want error for non-JSON reply")
	}
}

func TestParseReply_MissingTranslationsList(t *testing.T) {
	if _, err := parseReply(`{"result": "ok"}`, batchOf("A")); err == nil {
		t.Fatal("want error when translations list is absent")
	}
}

// ---------------------------------------------------------------------------
// extractResponseText
// ---------------------------------------------------------------------------

func TestExtractResponseText_OpenAI(t *testing.T) {
	body := `{"choices": [{"message": {"content": "hello"}}]}`
	got, err := extractResponseText([]byte(body))
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestExtractResponseText_Gemini(t *testing.T) {
	body := `{"candidates": [{"content": {"parts": [{"text": "hello"}]}}]}`
	got, err := extractResponseText([]byte(body))
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestExtractResponseText_APIError(t *testing.T) {
	body := `{"error": {"message": "model overloaded"}}`
	_, err := extractResponseText([]byte(body))
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// parseRetryDelay
// ---------------------------------------------------------------------------

func TestParseRetryDelay_RetryInfo(t *testing.T) {
	body := `{"error": {"details": [{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "30s"}]}}`
	got := parseRetryDelay([]byte(body))
	if got != 35*time.Second {
		t.Errorf("got %v, want 35s", got)
	}
}

func TestParseRetryDelay_NoHint(t *testing.T) {
	if got := parseRetryDelay([]byte(`{"error": {"message": "quota"}}`)); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}

// ---------------------------------------------------------------------------
// Policy
// ---------------------------------------------------------------------------

func TestPolicyBackoff_Doubles(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Jitter: func(time.Duration) time.Duration { return 0 }}
	if got := p.backoff(0); got != time.Second {
		t.Errorf("backoff(0) = %v", got)
	}
	if got := p.backoff(1); got != 2*time.Second {
		t.Errorf("backoff(1) = %v", got)
	}
	if got := p.backoff(3); got != 8*time.Second {
		t.Errorf("backoff(3) = %v", got)
	}
}

func TestPolicyBackoff_JitterAdded(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Jitter: func(time.Duration) time.Duration { return 250 * time.Millisecond }}
	if got := p.backoff(0); got != 1250*time.Millisecond {
		t.Errorf("backoff(0) = %v", got)
	}
}

func TestPolicyDefaults(t *testing.T) {
	var p Policy
	if p.attempts() != 5 {
		t.Errorf("attempts = %d, want 5", p.attempts())
	}
}

// ---------------------------------------------------------------------------
// buildHTTPRequest
// ---------------------------------------------------------------------------

func TestBuildHTTPRequest_OpenAI(t *testing.T) {
	prov := Provider{ID: ProviderOpenAI, BaseURL: "https://api.example.com/v1", APIKey: "sk-test", Model: "gpt-4o-mini"}
	endpoint, headers, body, err := buildHTTPRequest(prov, "sys", "user")
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if endpoint != "https://api.example.com/v1/chat/completions" {
		t.Errorf("endpoint = %q", endpoint)
	}
	if headers["Authorization"] != "Bearer sk-test" {
		t.Errorf("auth header = %q", headers["Authorization"])
	}
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if req["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", req["model"])
	}
}

func TestBuildHTTPRequest_Gemini(t *testing.T) {
	prov := Provider{ID: ProviderGemini, BaseURL: "https://gl.example.com", APIKey: "g-test", Model: "gemini-2.5-flash-lite"}
	endpoint, headers, _, err := buildHTTPRequest(prov, "sys", "user")
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	want := "https://gl.example.com/v1beta/models/gemini-2.5-flash-lite:generateContent"
	if endpoint != want {
		t.Errorf("endpoint = %q, want %q", endpoint, want)
	}
	if headers["x-goog-api-key"] != "g-test" {
		t.Errorf("key header = %q", headers["x-goog-api-key"])
	}
}

// ---------------------------------------------------------------------------
// TranslateBatch (httptest)
// ---------------------------------------------------------------------------

func chatReply(t *testing.T, translations string) string {
	t.Helper()
	content, err := json.Marshal(translations)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return fmt.Sprintf(`{"choices": [{"message": {"content": %s}}]}`, content)
}

func testRequester(srvURL string, policy Policy) *Requester {
	return NewRequester(Options{
		Provider:   Provider{ID: ProviderOpenAI, BaseURL: srvURL, APIKey: "k", Model: "m", Timeout: 5 * time.Second},
		Policy:     policy,
		SourceLang: "English",
		TargetLang: "Brazilian Portuguese",
	})
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestTranslateBatch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("auth = %q", got)
		}
		fmt.Fprint(w, chatReply(t, `{"translations": [{"key": "GREET", "text": "Olá, __VAR0__!"}]}`))
	}))
	defer srv.Close()

	r := testRequester(srv.URL, Policy{MaxAttempts: 1})
	got, err := r.TranslateBatch(context.Background(), []Item{{Key: "GREET", Text: "Hello, __VAR0__!"}})
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if got["GREET"] != "Olá, __VAR0__!" {
		t.Errorf("got %v", got)
	}
}

func TestTranslateBatch_RateLimitThenSuccess(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error": {"message": "rate limited"}}`)
			return
		}
		fmt.Fprint(w, chatReply(t, `{"translations": [{"key": "A", "text": "Olá"}]}`))
	}))
	defer srv.Close()

	var slept []time.Duration
	policy := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Jitter:      func(time.Duration) time.Duration { return 0 },
		Sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	r := testRequester(srv.URL, policy)
	got, err := r.TranslateBatch(context.Background(), batchOf("A"))
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if got["A"] != "Olá" {
		t.Errorf("got %v", got)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Errorf("slept = %v", slept)
	}
}

func TestTranslateBatch_AuthFailureIsFatal(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "invalid api key"}}`)
	}))
	defer srv.Close()

	r := testRequester(srv.URL, Policy{MaxAttempts: 3, Sleep: noSleep})
	_, err := r.TranslateBatch(context.Background(), batchOf("A"))
	if !IsFatal(err) {
		t.Fatalf("err = %v, want FatalError", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on auth failure)", calls)
	}
}

func TestTranslateBatch_ServerErrorExhaustsRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := testRequester(srv.URL, Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: noSleep})
	_, err := r.TranslateBatch(context.Background(), batchOf("A"))
	if err == nil {
		t.Fatal("want error after exhaustion")
	}
	if IsFatal(err) {
		t.Errorf("5xx should not be fatal: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestTranslateBatch_GarbledReplyIsRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		if calls == 1 {
			fmt.Fprint(w, chatReply(t, `I refuse to answer in JSON today.`))
			return
		}
		fmt.Fprint(w, chatReply(t, `{"translations": [{"key": "A", "text": "Olá"}]}`))
	}))
	defer srv.Close()

	r := testRequester(srv.URL, Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Sleep: noSleep})
	got, err := r.TranslateBatch(context.Background(), batchOf("A"))
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if got["A"] != "Olá" {
		t.Errorf("got %v", got)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestTranslateBatch_EmptyBatch(t *testing.T) {
	r := testRequester("http://unused.invalid", Policy{MaxAttempts: 1})
	got, err := r.TranslateBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v", got)
	}
}

// ---------------------------------------------------------------------------
// System prompt
// ---------------------------------------------------------------------------

func TestSystemPrompt_LanguageSubstitution(t *testing.T) {
	r := NewRequester(Options{SourceLang: "English", TargetLang: "French"})
	prompt := r.systemPrompt()
	if strings.Contains(prompt, "{{targetLang}}") || strings.Contains(prompt, "{{sourceLang}}") {
		t.Error("placeholders not substituted")
	}
	if !strings.Contains(prompt, "from English to French") {
		t.Error("language names missing from prompt")
	}
}

func TestSystemPrompt_GuidanceAppended(t *testing.T) {
	r := NewRequester(Options{SourceLang: "English", TargetLang: "French", Instructions: "Keep UI labels short."})
	prompt := r.systemPrompt()
	if !strings.Contains(prompt, "PROJECT GUIDANCE\nKeep UI labels short.") {
		t.Error("guidance not appended")
	}
}
