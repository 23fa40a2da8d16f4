package vision

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Describer captions images through the LLM gateway. It absorbs every
// failure: extraction pipelines that call it always get a usable
// description, degraded to a minimal one when the provider is unavailable
// or the output cannot be salvaged.
type Describer struct {
	gateway interfaces.LLMGateway
	config  *common.LLMConfig
	logger  arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.VisionDescriber = (*Describer)(nil)

// NewDescriber creates a vision describer backed by the gateway
func NewDescriber(gateway interfaces.LLMGateway, config *common.LLMConfig, logger arbor.ILogger) *Describer {
	return &Describer{
		gateway: gateway,
		config:  config,
		logger:  logger,
	}
}

// Model reports the vision model in use
func (d *Describer) Model() string {
	return d.config.VisionModel
}

// Describe captions one image with the surrounding page text as context.
// On any gateway error it logs and returns the degraded description.
func (d *Describer) Describe(ctx context.Context, image []byte, surrounding, language string) *models.ImageDescription {
	desc, err := d.gateway.DescribeImage(ctx, image, surrounding, interfaces.GenerateOptions{
		Model:    d.config.VisionModel,
		Language: language,
	})
	if err != nil {
		d.logger.Warn().Err(err).Msg("Image description failed, using degraded description")
		return &models.ImageDescription{Type: "other", Entities: []string{}}
	}
	if desc == nil {
		return &models.ImageDescription{Type: "other", Entities: []string{}}
	}
	return desc
}
