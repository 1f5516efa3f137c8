package speech

import (
	"context"
	"time"

	platformerrors "percepto-server-go/internal/platform/errors"
	"percepto-server-go/internal/utils"
)

// Synthesizer turns text into audio with one backend.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) (*Audio, error)
}

// Audio is a finished synthesis payload.
type Audio struct {
	Bytes    []byte
	Format   string
	Backend  string
	Duration time.Duration
}

// Chain tries backends in order: the network voice first, the offline
// fallback after. Synthesis never blocks the caller's result; when every
// backend fails the caller degrades to text only.
type Chain struct {
	backends []Synthesizer
	logger   *utils.Logger
}

func NewChain(backends []Synthesizer, logger *utils.Logger) *Chain {
	if logger == nil {
		logger = utils.DefaultLogger
	}
	return &Chain{backends: backends, logger: logger}
}

// Backends reports the configured backend names in priority order.
func (c *Chain) Backends() []string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return names
}

// Synthesize runs the fallback chain. The returned error carries the
// speech kind; callers treat it as a degradation signal, not a failure.
func (c *Chain) Synthesize(ctx context.Context, text string) (*Audio, error) {
	if text == "" {
		return nil, platformerrors.New(platformerrors.KindSpeech, "speech", "text cannot be empty")
	}
	if len(c.backends) == 0 {
		return nil, platformerrors.New(platformerrors.KindSpeech, "speech", "no backends configured")
	}

	for _, backend := range c.backends {
		if err := ctx.Err(); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindSpeech, "speech", "cancelled", err)
		}

		audio, err := backend.Synthesize(ctx, text)
		if err != nil {
			c.logger.WarnTag("TTS", "backend %s failed: %v", backend.Name(), err)
			continue
		}
		if audio == nil || len(audio.Bytes) == 0 {
			c.logger.WarnTag("TTS", "backend %s produced no audio", backend.Name())
			continue
		}

		audio.Backend = backend.Name()
		c.logger.InfoTag("TTS", "backend %s produced %d bytes (%s)", backend.Name(), len(audio.Bytes), audio.Format)
		return audio, nil
	}

	return nil, platformerrors.New(platformerrors.KindSpeech, "speech.chain", "all synthesis backends failed")
}
