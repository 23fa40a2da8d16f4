package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Mode names for the degradation ladder
const (
	ModeFull          = "full"
	ModeNoCredentials = "no-credentials"
	ModeDisabled      = "disabled"
)

// breakerThreshold consecutive provider failures open the circuit;
// breakerCooldown later it half-opens for a probe call.
const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// Gateway is the single entry point for all model interaction. It bounds
// concurrency with a weighted semaphore, spaces calls with a rate limiter,
// validates structured output against the caller's schema, and degrades to
// deterministic stubs when no provider is reachable. Callers always get a
// schema-valid structure or a typed error, regardless of mode.
type Gateway struct {
	factory  *ProviderFactory
	config   *common.LLMConfig
	logger   arbor.ILogger
	mode     string
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	retryCfg *RetryConfig

	mu           sync.Mutex
	failures     int
	breakerOpen  bool
	breakerUntil time.Time
}

// Compile-time interface assertion
var _ interfaces.LLMGateway = (*Gateway)(nil)

// NewGateway creates the gateway and settles its degradation mode once at
// construction: disabled by config, no-credentials when no API key is set,
// full otherwise.
func NewGateway(factory *ProviderFactory, config *common.LLMConfig, logger arbor.ILogger) *Gateway {
	mode := ModeFull
	switch {
	case config.Mode == ModeDisabled:
		mode = ModeDisabled
	case !factory.HasCredentials():
		mode = ModeNoCredentials
	}

	maxConcurrent := config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	interval := common.ParseDuration(config.RateLimit, 250*time.Millisecond)
	limiter := rate.NewLimiter(rate.Every(interval), maxConcurrent)

	logger.Info().
		Str("mode", mode).
		Int("max_concurrent", maxConcurrent).
		Msg("LLM gateway initialized")

	return &Gateway{
		factory:  factory,
		config:   config,
		logger:   logger,
		mode:     mode,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		limiter:  limiter,
		retryCfg: NewDefaultRetryConfig(config.MaxRetries),
	}
}

// Mode reports the current degradation level
func (g *Gateway) Mode() string {
	return g.mode
}

// GenerateText returns a free-form completion for prompt
func (g *Gateway) GenerateText(ctx context.Context, prompt string, opts interfaces.GenerateOptions) (string, error) {
	if g.mode != ModeFull {
		return "", nil
	}
	resp, err := g.call(ctx, &ContentRequest{
		Prompt:      prompt,
		Model:       opts.Model,
		Temperature: opts.Temperature,
	}, opts)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// GenerateStructured returns JSON validating against schema. Provider
// output that violates the schema is retried with a repair follow-up up to
// the configured schema retry budget before failing.
func (g *Gateway) GenerateStructured(ctx context.Context, prompt string, schema map[string]interface{}, opts interfaces.GenerateOptions) ([]byte, error) {
	if g.mode != ModeFull {
		return StubJSON(schema), nil
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	currentPrompt := prompt
	schemaRetries := g.config.SchemaRetries
	if schemaRetries <= 0 {
		schemaRetries = 2
	}

	var lastErr error
	for attempt := 0; attempt <= schemaRetries; attempt++ {
		resp, err := g.call(ctx, &ContentRequest{
			Prompt:       currentPrompt,
			Model:        opts.Model,
			Temperature:  opts.Temperature,
			OutputSchema: schema,
		}, opts)
		if err != nil {
			return nil, err
		}

		candidate := extractJSON(resp.Text)
		result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(candidate))
		if err == nil && result.Valid() {
			return candidate, nil
		}

		var problems []string
		if err != nil {
			problems = append(problems, err.Error())
		} else {
			for _, desc := range result.Errors() {
				problems = append(problems, desc.String())
			}
		}
		lastErr = models.NewPipelineError(models.ErrKindSchemaViolation, "gateway",
			fmt.Sprintf("structured output failed validation: %s", strings.Join(problems, "; ")), nil)

		g.logger.Warn().
			Int("attempt", attempt+1).
			Strs("problems", problems).
			Msg("Schema violation in structured output, requesting repair")

		schemaText := renderSchemaHint(schema)
		currentPrompt = fmt.Sprintf(
			"The following JSON does not match the required schema.\nSchema:\n%s\n\nInvalid JSON:\n%s\n\nProblems: %s\n\nReturn a corrected JSON value matching the schema, and nothing else.",
			schemaText, string(candidate), strings.Join(problems, "; "))
	}

	return nil, lastErr
}

// DescribeImage captions image bytes constrained to the image description
// schema, with the surrounding page text as context.
func (g *Gateway) DescribeImage(ctx context.Context, image []byte, surroundingText string, opts interfaces.GenerateOptions) (*models.ImageDescription, error) {
	schema := ImageDescriptionSchema()

	if g.mode != ModeFull {
		return &models.ImageDescription{Type: "other", Entities: []string{}}, nil
	}

	language := opts.Language
	if language == "" {
		language = "en"
	}
	prompt := "Describe this image for a document retrieval corpus. Identify its type and any named entities it contains."
	if language == "fr" {
		prompt = "Décris cette image pour un corpus documentaire. Identifie son type et les entités nommées qu'elle contient."
	}
	if surroundingText != "" {
		prompt += "\n\nSurrounding document text for context:\n" + surroundingText
	}

	if opts.Model == "" {
		opts.Model = g.config.VisionModel
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	resp, err := g.call(ctx, &ContentRequest{
		Prompt:       prompt,
		Model:        opts.Model,
		Temperature:  opts.Temperature,
		OutputSchema: schema,
		ImageData:    image,
		ImageType:    "image/png",
	}, opts)
	if err != nil {
		return nil, err
	}

	candidate := extractJSON(resp.Text)
	result, verr := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(candidate))
	if verr != nil || !result.Valid() {
		return nil, models.NewPipelineError(models.ErrKindSchemaViolation, "gateway",
			"image description failed schema validation", verr)
	}

	var desc models.ImageDescription
	if err := json.Unmarshal(candidate, &desc); err != nil {
		return nil, models.NewPipelineError(models.ErrKindSchemaViolation, "gateway",
			"image description is not valid JSON", err)
	}
	if desc.Entities == nil {
		desc.Entities = []string{}
	}
	desc.Summary = truncateUTF8(desc.Summary, 500)
	return &desc, nil
}

// truncateUTF8 caps s at limit bytes without splitting a rune
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// call performs one provider round trip with semaphore, rate limit,
// circuit breaker, deadline and transient-error retry.
func (g *Gateway) call(ctx context.Context, request *ContentRequest, opts interfaces.GenerateOptions) (*ContentResponse, error) {
	if err := g.checkBreaker(); err != nil {
		return nil, err
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	timeout := common.ParseDuration(opts.Timeout, 2*time.Minute)
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = g.retryCfg.MaxRetries
	}

	var resp *ContentResponse
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err = g.factory.GenerateContent(callCtx, request)
		cancel()

		if err == nil {
			g.recordSuccess()
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if IsCredentialError(err) {
			g.recordFailure()
			return nil, models.NewPipelineError(models.ErrKindGatewayPermanent, "gateway",
				"provider rejected credentials", err)
		}
		if !IsTransientError(err) {
			g.recordFailure()
			return nil, models.NewPipelineError(models.ErrKindGatewayPermanent, "gateway",
				"provider call failed", err)
		}
		g.recordFailure()
		if attempt == maxRetries {
			break
		}

		backoff := g.retryCfg.CalculateBackoff(attempt)
		g.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Transient gateway error, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, models.NewPipelineError(models.ErrKindGatewayTransient, "gateway",
		fmt.Sprintf("provider call failed after %d attempts", maxRetries+1), err)
}

func (g *Gateway) checkBreaker() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.breakerOpen {
		return nil
	}
	if time.Now().After(g.breakerUntil) {
		// Half-open: allow one probe through
		g.breakerOpen = false
		g.failures = breakerThreshold - 1
		return nil
	}
	return models.NewPipelineError(models.ErrKindGatewayTransient, "gateway",
		"circuit breaker open", nil)
}

func (g *Gateway) recordSuccess() {
	g.mu.Lock()
	g.failures = 0
	g.breakerOpen = false
	g.mu.Unlock()
}

func (g *Gateway) recordFailure() {
	g.mu.Lock()
	g.failures++
	if g.failures >= breakerThreshold {
		g.breakerOpen = true
		g.breakerUntil = time.Now().Add(breakerCooldown)
		g.logger.Warn().Int("failures", g.failures).Msg("Gateway circuit breaker opened")
	}
	g.mu.Unlock()
}

// Close releases provider clients
func (g *Gateway) Close() error {
	return g.factory.Close()
}

// ImageDescriptionSchema is the schema constraining vision output
func ImageDescriptionSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"summary": map[string]interface{}{"type": "string", "maxLength": 500},
			"type": map[string]interface{}{
				"type": "string",
				"enum": []string{"diagram", "chart", "photograph", "schematic", "table", "other"},
			},
			"entities": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"summary", "type", "entities"},
	}
}

// extractJSON trims non-JSON wrapping (markdown fences, prose) around the
// first JSON value in text.
func extractJSON(text string) []byte {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.IndexAny(text, "{[")
	if start > 0 {
		text = text[start:]
	}
	return []byte(text)
}

// renderSchemaHint pretty-prints a schema for inclusion in a prompt
func renderSchemaHint(schema map[string]interface{}) string {
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
