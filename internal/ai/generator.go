package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/skycast/skycast/internal/observability"
)

var (
	// ErrQuotaExhausted means every model/key pair failed with a
	// quota-class error; billing or limits need attention.
	ErrQuotaExhausted = errors.New("ai: quota exhausted on all models")

	// ErrContentBlocked means the provider refused the prompt or response
	// on safety grounds.
	ErrContentBlocked = errors.New("ai: content blocked by provider")

	// ErrNotConfigured means no API key was supplied.
	ErrNotConfigured = errors.New("ai: no API keys configured")
)

// placeholderRe matches {{var}} template placeholders.
var placeholderRe = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)

// Generator renders a prompt template, calls the chat-completion endpoint
// and returns the raw JSON the model produced. Models are tried in
// preference order; keys rotate within a model on quota failures.
type Generator struct {
	clients []keyedClient
	models  []string
	tracker *Tracker
	timeout time.Duration
	logger  *zap.Logger
}

type keyedClient struct {
	client *openai.Client
	label  string // key fingerprint for logs, never the key itself
}

// Config holds Generator construction parameters. BaseURL is optional and
// exists so tests can point at an httptest server.
type Config struct {
	APIKeys []string
	BaseURL string
	Models  []string
	Timeout time.Duration
	Tracker *Tracker
	Logger  *zap.Logger
}

// NewGenerator validates configuration and builds one provider client per
// API key.
func NewGenerator(cfg Config) (*Generator, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, ErrNotConfigured
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("ai: at least one model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NewTracker(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	clients := make([]keyedClient, 0, len(cfg.APIKeys))
	for i, key := range cfg.APIKeys {
		oc := openai.DefaultConfig(key)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		clients = append(clients, keyedClient{
			client: openai.NewClientWithConfig(oc),
			label:  fmt.Sprintf("key_%d", i),
		})
	}

	return &Generator{
		clients: clients,
		models:  cfg.Models,
		tracker: cfg.Tracker,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}, nil
}

// RenderTemplate substitutes {{var}} placeholders by direct replacement.
// Missing variables render as [missing:name] rather than failing; inputs
// are weather data, not user-controlled free text, so no escaping happens
// here (the city name is the one pass-through — callers own that concern).
func RenderTemplate(template string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return fmt.Sprintf("[missing:%s]", name)
	})
}

// Generate renders the prompt template against vars and asks each
// available model in order for a JSON document matching outputSchema.
// Quota failures mark the model unavailable and advance; other failures
// advance too (best effort). When every model fails, the returned error is
// classified: quota, content block, or the last failure wrapped.
func (g *Generator) Generate(ctx context.Context, promptTemplate string, vars map[string]string, outputSchema json.RawMessage) (json.RawMessage, error) {
	prompt := RenderTemplate(promptTemplate, vars)
	if len(outputSchema) > 0 {
		prompt = fmt.Sprintf("%s\n\nRespond with a single JSON object matching this schema:\n%s", prompt, outputSchema)
	}

	var lastErr error
	for _, model := range g.tracker.Available(g.models) {
		out, err := g.tryModel(ctx, model, prompt)
		if err == nil {
			observability.AIGenerationsTotal.WithLabelValues(model, "ok").Inc()
			return out, nil
		}

		lastErr = err
		if isQuotaError(err) {
			observability.AIGenerationsTotal.WithLabelValues(model, "quota").Inc()
			g.tracker.MarkUnavailable(model)
			g.logger.Warn("model quota exhausted, trying next",
				zap.String("model", model), zap.Error(err))
			continue
		}
		observability.AIGenerationsTotal.WithLabelValues(model, "error").Inc()
		g.logger.Warn("model failed, trying next",
			zap.String("model", model), zap.Error(err))
	}

	return nil, classify(lastErr)
}

// tryModel runs one completion against every key in order, rotating on
// quota-class failures only.
func (g *Generator) tryModel(ctx context.Context, model, prompt string) (json.RawMessage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var lastErr error
	for _, kc := range g.clients {
		resp, err := kc.client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			lastErr = err
			if isQuotaError(err) {
				g.logger.Debug("key exhausted, rotating", zap.String("key", kc.label), zap.String("model", model))
				continue
			}
			return nil, err
		}

		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return nil, fmt.Errorf("empty completion from model %s", model)
		}
		content := resp.Choices[0].Message.Content
		if !json.Valid([]byte(content)) {
			return nil, fmt.Errorf("model %s returned invalid JSON", model)
		}
		return json.RawMessage(content), nil
	}
	return nil, lastErr
}

// isQuotaError detects quota-class failures: HTTP 429 or a message naming
// quota or 429.
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "429")
}

// isContentError detects provider safety blocks.
func isContentError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Type == "content_filter" {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "content_filter") || strings.Contains(msg, "content policy") || strings.Contains(msg, "safety")
}

// classify maps the final failure to a sentinel the caller can translate
// into a user-facing message.
func classify(err error) error {
	switch {
	case err == nil:
		return fmt.Errorf("ai: no models available")
	case isQuotaError(err):
		return fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
	case isContentError(err):
		return fmt.Errorf("%w: %v", ErrContentBlocked, err)
	default:
		return fmt.Errorf("ai: all models failed: %w", err)
	}
}
