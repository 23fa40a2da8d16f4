package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// GenerateOptions tunes a single gateway call. Zero values fall back to
// the gateway's configured defaults.
type GenerateOptions struct {
	Model       string
	Timeout     string  // Duration string; empty uses the provider default
	MaxRetries  int
	Temperature float32 // Advisory; providers may ignore it
	Language    string  // fr | en, affects prompt framing
}

// LLMGateway is the single entry point for all model interaction.
// Every method returns either a schema-valid result or a typed error;
// callers never branch on the gateway's degradation mode.
type LLMGateway interface {
	// GenerateText returns a free-form completion for prompt
	GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// GenerateStructured returns JSON validating against schema.
	// Schema violations are retried with a repair follow-up before failing.
	GenerateStructured(ctx context.Context, prompt string, schema map[string]interface{}, opts GenerateOptions) ([]byte, error)

	// DescribeImage captions image bytes using the surrounding page text as context
	DescribeImage(ctx context.Context, image []byte, surroundingText string, opts GenerateOptions) (*models.ImageDescription, error)

	// Mode reports the current degradation level: full, no-credentials or disabled
	Mode() string

	// Close releases provider clients
	Close() error
}
