package speech

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/wujunwei928/edge-tts-go/edge_tts"

	"percepto-server-go/internal/utils"
)

// EdgeSynthesizer is the network-backed primary voice.
type EdgeSynthesizer struct {
	voice  string
	logger *utils.Logger
}

func NewEdgeSynthesizer(voice string, logger *utils.Logger) *EdgeSynthesizer {
	if voice == "" {
		voice = "en-US-AriaNeural"
	}
	if logger == nil {
		logger = utils.DefaultLogger
	}
	return &EdgeSynthesizer{voice: voice, logger: logger}
}

func (e *EdgeSynthesizer) Name() string {
	return "edge"
}

// Synthesize requests MP3 audio from the Edge voice service.
func (e *EdgeSynthesizer) Synthesize(ctx context.Context, text string) (*Audio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	communicate, err := edge_tts.NewCommunicate(text, edge_tts.SetVoice(e.voice))
	if err != nil {
		return nil, fmt.Errorf("create edge communicator: %w", err)
	}

	start := time.Now()
	data, err := communicate.Stream()
	if err != nil {
		return nil, fmt.Errorf("edge synthesis: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("edge synthesis: empty audio")
	}

	e.logger.DebugTag("TTS", "edge voice %s synthesized %d bytes in %v", e.voice, len(data), time.Since(start))

	return &Audio{
		Bytes:    data,
		Format:   "mp3",
		Duration: mp3Duration(data),
	}, nil
}

// mp3Duration derives playback length from the decoded sample count. A
// zero duration just means the metadata is unavailable; the audio is
// still returned.
func mp3Duration(data []byte) time.Duration {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	sampleRate := decoder.SampleRate()
	if sampleRate <= 0 {
		return 0
	}
	// decoded output is 16-bit stereo, 4 bytes per sample frame
	seconds := float64(decoder.Length()) / float64(sampleRate*4)
	return time.Duration(seconds * float64(time.Second))
}
