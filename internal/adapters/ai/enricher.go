// Package ai turns raw spreadsheet rows into typed product fields with a
// generative model reached through an OpenAI-compatible chat completions API.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/phenrril/pharmastore/internal/domain"
	"github.com/phenrril/pharmastore/internal/retry"
)

const (
	// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultModel      = "gemini-2.0-flash"
	DefaultRetryDelay = 2 * time.Second
	placeholderPrefix = "Unnamed Product"
)

type Config struct {
	APIKey        string
	BaseURL       string
	DefaultModel  string
	AllowedModels []string
	RetryDelay    time.Duration
	HTTPClient    *http.Client
}

// Enricher is safe for concurrent use.
type Enricher struct {
	client       *openai.Client
	defaultModel string
	allowed      map[string]bool
	delay        time.Duration
}

func NewEnricher(cfg Config) *Enricher {
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = DefaultBaseURL
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	model := cfg.DefaultModel
	if model == "" {
		model = DefaultModel
	}
	allowed := map[string]bool{model: true}
	for _, m := range cfg.AllowedModels {
		if m = strings.TrimSpace(m); m != "" {
			allowed[m] = true
		}
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	return &Enricher{
		client:       openai.NewClientWithConfig(oc),
		defaultModel: model,
		allowed:      allowed,
		delay:        delay,
	}
}

// ResolveModel maps an empty model to the default and rejects models outside the allow-list.
func (e *Enricher) ResolveModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return e.defaultModel, nil
	}
	if !e.allowed[model] {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownModel, model)
	}
	return model, nil
}

func (e *Enricher) Enrich(ctx context.Context, raw domain.RawRecord, imageURL, model string, maxAttempts int) (domain.NormalizedFields, error) {
	model, err := e.ResolveModel(model)
	if err != nil {
		return domain.NormalizedFields{}, err
	}
	req := e.request(model, buildPrompt(raw, imageURL))

	policy := retry.Policy{MaxAttempts: maxAttempts, Delay: e.delay, Exhausted: retry.Fail}
	fields, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (domain.NormalizedFields, error) {
		resp, err := e.client.CreateChatCompletion(ctx, req)
		if err != nil {
			log.Warn().Err(err).Str("model", model).Int("attempt", attempt).Msg("ai completion failed")
			return domain.NormalizedFields{}, err
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			log.Warn().Str("model", model).Int("attempt", attempt).Msg("ai completion empty")
			return domain.NormalizedFields{}, errors.New("empty completion")
		}
		f, err := parseFields(resp.Choices[0].Message.Content)
		if err != nil {
			log.Warn().Err(err).Str("model", model).Int("attempt", attempt).Msg("ai completion unparseable")
			return domain.NormalizedFields{}, err
		}
		return f, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAborted) {
			return domain.NormalizedFields{}, err
		}
		return domain.NormalizedFields{}, fmt.Errorf("%w: %w", domain.ErrEnrichmentFailed, err)
	}
	return fields, nil
}

func (e *Enricher) request(model, prompt string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "pharmacy_product",
				Schema: productSchema,
				Strict: true,
			},
		},
	}
}

// parseFields decodes a completion body and applies the field fallbacks.
func parseFields(content string) (domain.NormalizedFields, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var m map[string]any
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return domain.NormalizedFields{}, fmt.Errorf("decode completion: %w", err)
	}

	f := domain.NormalizedFields{
		ProductName: stringOf(m["productName"]),
		Brand:       nullableString(m["brand"]),
		Category:    nullableString(m["category"]),
		ExpiryDate:  nullableString(m["expiryDate"]),
		Description: stringOf(m["description"]),
		Tags:        []string{},
	}
	if f.ProductName == "" {
		f.ProductName = placeholderPrefix + " " + uuid.NewString()[:8]
	}

	price, ok := numberOf(m["price"])
	if !ok || price < 0 {
		price = 0
	}
	f.Price = price
	if op, ok := numberOf(m["originalPrice"]); ok && op >= 0 {
		f.OriginalPrice = op
	} else {
		f.OriginalPrice = price
	}
	f.Quantity = 1
	if q, ok := numberOf(m["quantity"]); ok && q >= 1 {
		f.Quantity = int(q)
	}
	if r, ok := numberOf(m["rating"]); ok {
		f.Rating = r
	}
	if rc, ok := numberOf(m["reviewCount"]); ok {
		f.ReviewCount = int(rc)
	}
	if tags, ok := m["tags"].([]any); ok {
		for _, t := range tags {
			if s := stringOf(t); s != "" {
				f.Tags = append(f.Tags, s)
			}
		}
	}
	return f, nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func nullableString(v any) *string {
	s := stringOf(v)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		d, ok := parseDecimal(n)
		if !ok {
			return 0, false
		}
		return d.InexactFloat64(), true
	}
	return 0, false
}
