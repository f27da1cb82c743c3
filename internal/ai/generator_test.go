package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// completionServer fakes the chat-completion endpoint. respond decides the
// outcome per request from the model name and bearer token.
type completionServer struct {
	mu       sync.Mutex
	attempts []string // "model/token" in arrival order
	respond  func(model, token string) (status int, body string)
}

func (s *completionServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		token := r.Header.Get("Authorization")

		s.mu.Lock()
		s.attempts = append(s.attempts, req.Model+"/"+token)
		s.mu.Unlock()

		status, body := s.respond(req.Model, token)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}
}

func okCompletion(content string) string {
	b, _ := json.Marshal(content)
	return fmt.Sprintf(`{"choices":[{"message":{"role":"assistant","content":%s}}]}`, b)
}

const quotaBody = `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota"}}`

func newTestGenerator(t *testing.T, baseURL string, keys, models []string) *Generator {
	t.Helper()
	g, err := NewGenerator(Config{
		APIKeys: keys,
		BaseURL: baseURL,
		Models:  models,
	})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	return g
}

// TestGenerateModelFallback verifies a quota failure on the first model
// marks it unavailable and the second model serves the request.
func TestGenerateModelFallback(t *testing.T) {
	srv := &completionServer{
		respond: func(model, token string) (int, string) {
			if model == "first" {
				return http.StatusTooManyRequests, quotaBody
			}
			return http.StatusOK, okCompletion(`{"summary":"warm and dry"}`)
		},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	g := newTestGenerator(t, ts.URL, []string{"test-key-1"}, []string{"first", "second"})
	out, err := g.Generate(context.Background(), "Summarize {{city}}", map[string]string{"city": "Phoenix"}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var parsed struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil || parsed.Summary != "warm and dry" {
		t.Errorf("output = %s, parse err = %v", out, err)
	}
	if len(srv.attempts) != 2 {
		t.Fatalf("attempts = %v, want first then second", srv.attempts)
	}

	// The quota mark sticks: the next call skips the first model entirely.
	srv.attempts = nil
	if _, err := g.Generate(context.Background(), "again", nil, nil); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(srv.attempts) != 1 {
		t.Errorf("attempts after mark = %v, want only the second model", srv.attempts)
	}
}

// TestGenerateAllQuota verifies exhausting every model yields an error
// classified as quota exhaustion.
func TestGenerateAllQuota(t *testing.T) {
	srv := &completionServer{
		respond: func(model, token string) (int, string) {
			return http.StatusTooManyRequests, quotaBody
		},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	g := newTestGenerator(t, ts.URL, []string{"test-key-1"}, []string{"first", "second"})
	_, err := g.Generate(context.Background(), "prompt", nil, nil)
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Errorf("error = %v, want ErrQuotaExhausted", err)
	}
}

// TestGenerateKeyRotation verifies quota failures rotate across API keys
// within one model before giving up on it.
func TestGenerateKeyRotation(t *testing.T) {
	srv := &completionServer{
		respond: func(model, token string) (int, string) {
			if token == "Bearer exhausted-key-1" {
				return http.StatusTooManyRequests, quotaBody
			}
			return http.StatusOK, okCompletion(`{"ok":true}`)
		},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	g := newTestGenerator(t, ts.URL, []string{"exhausted-key-1", "healthy-key-2"}, []string{"only-model"})
	if _, err := g.Generate(context.Background(), "prompt", nil, nil); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	want := []string{"only-model/Bearer exhausted-key-1", "only-model/Bearer healthy-key-2"}
	if len(srv.attempts) != 2 || srv.attempts[0] != want[0] || srv.attempts[1] != want[1] {
		t.Errorf("attempts = %v, want %v", srv.attempts, want)
	}
}

// TestGenerateNonQuotaFailureAdvances verifies a non-quota server failure
// still advances to the next model without marking the first unavailable.
func TestGenerateNonQuotaFailureAdvances(t *testing.T) {
	srv := &completionServer{
		respond: func(model, token string) (int, string) {
			if model == "first" {
				return http.StatusInternalServerError, `{"error":{"message":"upstream exploded","type":"server_error"}}`
			}
			return http.StatusOK, okCompletion(`{"ok":true}`)
		},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	g := newTestGenerator(t, ts.URL, []string{"test-key-1"}, []string{"first", "second"})
	if _, err := g.Generate(context.Background(), "prompt", nil, nil); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	// No quota mark: the first model is attempted again next time.
	srv.attempts = nil
	_, _ = g.Generate(context.Background(), "prompt", nil, nil)
	if len(srv.attempts) == 0 || srv.attempts[0] != "first/Bearer test-key-1" {
		t.Errorf("attempts = %v, want first model retried", srv.attempts)
	}
}

// TestGenerateInvalidJSONRejected verifies non-JSON model output is an
// error, not a passthrough.
func TestGenerateInvalidJSONRejected(t *testing.T) {
	srv := &completionServer{
		respond: func(model, token string) (int, string) {
			return http.StatusOK, okCompletion("sunny with a chance of JSON")
		},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	g := newTestGenerator(t, ts.URL, []string{"test-key-1"}, []string{"only"})
	if _, err := g.Generate(context.Background(), "prompt", nil, nil); err == nil {
		t.Error("expected error for invalid JSON output")
	}
}

// TestGenerateAppendsSchema verifies the output schema rides along in the
// prompt when supplied.
func TestGenerateAppendsSchema(t *testing.T) {
	var gotPrompt string
	handler := func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 {
			gotPrompt = req.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, okCompletion(`{"summary":"x"}`))
	}
	ts := httptest.NewServer(http.HandlerFunc(handler))
	defer ts.Close()

	g := newTestGenerator(t, ts.URL, []string{"test-key-1"}, []string{"only"})
	schema := json.RawMessage(`{"type":"object"}`)
	if _, err := g.Generate(context.Background(), "Summarize {{city}}", map[string]string{"city": "Oslo"}, schema); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	for _, want := range []string{"Summarize Oslo", `{"type":"object"}`} {
		if !strings.Contains(gotPrompt, want) {
			t.Errorf("prompt missing %q: %q", want, gotPrompt)
		}
	}
}

// TestRenderTemplate verifies placeholder substitution and the visible
// marker for missing variables.
func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}{
		{
			name:     "simple substitution",
			template: "Weather in {{city}} is {{condition}}",
			vars:     map[string]string{"city": "Oslo", "condition": "Rain"},
			want:     "Weather in Oslo is Rain",
		},
		{
			name:     "missing variable marked",
			template: "Weather in {{city}}",
			vars:     nil,
			want:     "Weather in [missing:city]",
		},
		{
			name:     "no escaping applied",
			template: "{{html}}",
			vars:     map[string]string{"html": "<b>&</b>"},
			want:     "<b>&</b>",
		},
		{
			name:     "repeated placeholder",
			template: "{{x}} and {{x}}",
			vars:     map[string]string{"x": "twice"},
			want:     "twice and twice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderTemplate(tt.template, tt.vars); got != tt.want {
				t.Errorf("RenderTemplate() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestNewGeneratorValidation verifies construction rejects empty key and
// model lists.
func TestNewGeneratorValidation(t *testing.T) {
	if _, err := NewGenerator(Config{Models: []string{"m"}}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("no keys: error = %v, want ErrNotConfigured", err)
	}
	if _, err := NewGenerator(Config{APIKeys: []string{"k"}}); err == nil {
		t.Error("no models: expected error")
	}
}
