package describe

import (
	"context"
	"strings"
	"time"

	domainimage "percepto-server-go/internal/domain/image"
	platformerrors "percepto-server-go/internal/platform/errors"
	"percepto-server-go/internal/utils"
)

// DefaultPrompt asks for a structured, screen-reader friendly description.
const DefaultPrompt = `Please provide a detailed, accessible description of this image. Focus on:

1. Overall scene and setting
2. People, objects, and their positions
3. Colors, lighting, and visual details
4. Any text visible in the image
5. Spatial relationships (left, right, center, background, foreground)

Write in clear, descriptive language that would be helpful for someone who cannot see the image. Be specific about locations, colors, and what's happening in the scene.`

// Model attempts one description request against a single remote model.
type Model interface {
	Name() string
	Describe(ctx context.Context, payload *domainimage.Encoded, prompt string) (string, error)
}

// Result is a successful description and the model that produced it.
type Result struct {
	Text      string
	ModelUsed string
}

// Chain tries a priority-ordered list of models; the first model returning
// a non-empty description wins. There is no retry within a model and no
// backoff between models.
type Chain struct {
	models  []Model
	timeout time.Duration
	prompt  string
	logger  *utils.Logger
}

// NewChain builds a description chain over the given models, most capable
// first.
func NewChain(models []Model, timeout time.Duration, logger *utils.Logger) *Chain {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = utils.DefaultLogger
	}
	return &Chain{
		models:  models,
		timeout: timeout,
		prompt:  DefaultPrompt,
		logger:  logger,
	}
}

// WithPrompt overrides the instructional prompt (useful for tests).
func (c *Chain) WithPrompt(prompt string) *Chain {
	if prompt != "" {
		c.prompt = prompt
	}
	return c
}

// Models reports the configured model identifiers in priority order.
func (c *Chain) Models() []string {
	names := make([]string, len(c.models))
	for i, m := range c.models {
		names[i] = m.Name()
	}
	return names
}

// Describe runs the fallback chain. An empty prompt falls back to the
// accessibility default. Every model failing is the only fatal outcome of
// the pipeline.
func (c *Chain) Describe(ctx context.Context, payload *domainimage.Encoded, prompt string) (*Result, error) {
	if payload == nil || len(payload.Bytes) == 0 {
		return nil, platformerrors.New(platformerrors.KindVision, "describe", "missing image payload")
	}
	if len(c.models) == 0 {
		return nil, platformerrors.New(platformerrors.KindVision, "describe", "no models configured")
	}
	if prompt == "" {
		prompt = c.prompt
	}

	for _, model := range c.models {
		if err := ctx.Err(); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindVision, "describe", "cancelled", err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		text, err := model.Describe(attemptCtx, payload, prompt)
		cancel()

		if err != nil {
			c.logger.WarnTag("Vision", "model %s failed: %v", model.Name(), err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			c.logger.WarnTag("Vision", "model %s returned empty description", model.Name())
			continue
		}

		c.logger.InfoTag("Vision", "model %s produced %d chars", model.Name(), len(text))
		return &Result{
			Text:      text,
			ModelUsed: model.Name(),
		}, nil
	}

	return nil, platformerrors.New(
		platformerrors.KindVision,
		"describe.chain",
		"all description services failed, please retry or check connectivity",
	)
}
