package services

import (
	"context"

	"percepto-server-go/internal/domain/describe"
	domainimage "percepto-server-go/internal/domain/image"
	"percepto-server-go/internal/domain/speech"
	platformerrors "percepto-server-go/internal/platform/errors"
	"percepto-server-go/internal/utils"
)

// ImageValidator screens uploads before any expensive work happens.
type ImageValidator interface {
	ValidateBytes(data []byte, declaredFormat string) domainimage.ValidationResult
}

// ImageReducer shrinks an upload into a model-ready payload.
type ImageReducer interface {
	ReduceBytes(ctx context.Context, data []byte) (*domainimage.Encoded, error)
}

// Describer produces a textual description of the payload. An empty
// prompt means the default accessibility prompt.
type Describer interface {
	Describe(ctx context.Context, payload *domainimage.Encoded, prompt string) (*describe.Result, error)
}

// SpeechSynthesizer narrates a description. Its failures never fail the
// request.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (*speech.Audio, error)
}

// Narration is the full pipeline output. Audio is nil when every speech
// backend failed; the description alone is still a valid result.
type Narration struct {
	Description string
	ModelUsed   string
	Image       *domainimage.Encoded
	Audio       *speech.Audio
}

// Narrator orchestrates validate, reduce, describe, narrate. Description
// failure is the only fatal outcome; speech degrades to text only.
type Narrator struct {
	validator ImageValidator
	reducer   ImageReducer
	describer Describer
	speech    SpeechSynthesizer
	logger    *utils.Logger
}

func NewNarrator(
	validator ImageValidator,
	reducer ImageReducer,
	describer Describer,
	speech SpeechSynthesizer,
	logger *utils.Logger,
) *Narrator {
	if logger == nil {
		logger = utils.DefaultLogger
	}
	return &Narrator{
		validator: validator,
		reducer:   reducer,
		describer: describer,
		speech:    speech,
		logger:    logger,
	}
}

// Analyze runs the pipeline over a raw upload. question optionally
// overrides the default description prompt.
func (n *Narrator) Analyze(ctx context.Context, data []byte, declaredFormat, question string) (*Narration, error) {
	validation := n.validator.ValidateBytes(data, declaredFormat)
	if !validation.IsValid {
		return nil, platformerrors.Wrap(platformerrors.KindImage, "narrator.validate", "upload rejected", validation.Error)
	}

	encoded, err := n.reducer.ReduceBytes(ctx, data)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindImage, "narrator.reduce", "image processing failed", err)
	}

	described, err := n.describer.Describe(ctx, encoded, question)
	if err != nil {
		return nil, err
	}

	result := &Narration{
		Description: described.Text,
		ModelUsed:   described.ModelUsed,
		Image:       encoded,
	}

	// best effort: a narration without audio is still served
	audio, err := n.speech.Synthesize(ctx, described.Text)
	if err != nil {
		n.logger.WarnTag("TTS", "speech unavailable, returning text only: %v", err)
		return result, nil
	}
	result.Audio = audio

	return result, nil
}
