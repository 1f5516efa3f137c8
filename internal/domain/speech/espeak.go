package speech

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"percepto-server-go/internal/utils"
)

// EspeakSynthesizer shells out to the espeak binary so narration keeps
// working without network access. Audio goes through a temporary WAV
// file that is always removed, success or failure.
type EspeakSynthesizer struct {
	binary  string
	rate    int
	volume  float64
	tempDir string
	logger  *utils.Logger
}

func NewEspeakSynthesizer(binary string, rate int, volume float64, tempDir string, logger *utils.Logger) *EspeakSynthesizer {
	if binary == "" {
		binary = "espeak"
	}
	if rate <= 0 {
		rate = 150
	}
	if volume <= 0 || volume > 1 {
		volume = 0.9
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if logger == nil {
		logger = utils.DefaultLogger
	}
	return &EspeakSynthesizer{
		binary:  binary,
		rate:    rate,
		volume:  volume,
		tempDir: tempDir,
		logger:  logger,
	}
}

func (e *EspeakSynthesizer) Name() string {
	return "espeak"
}

// Synthesize writes WAV audio to a temp file, reads it back, and removes
// the file before returning.
func (e *EspeakSynthesizer) Synthesize(ctx context.Context, text string) (*Audio, error) {
	if err := os.MkdirAll(e.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	outPath := filepath.Join(e.tempDir, fmt.Sprintf("speech_%s.wav", uuid.New().String()))
	defer os.Remove(outPath)

	// espeak amplitude runs 0-200 with 100 as the nominal level
	amplitude := int(e.volume * 200)

	cmd := exec.CommandContext(ctx, e.binary,
		"-s", strconv.Itoa(e.rate),
		"-a", strconv.Itoa(amplitude),
		"-w", outPath,
		text,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("espeak run: %w (%s)", err, string(output))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read espeak output: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("espeak produced empty audio")
	}

	e.logger.DebugTag("TTS", "espeak synthesized %d bytes at rate %d", len(data), e.rate)

	return &Audio{
		Bytes:    data,
		Format:   "wav",
		Duration: wavDuration(data),
	}, nil
}

// wavDuration reads the byte rate from a canonical RIFF header. Returns
// zero for anything it does not recognize.
func wavDuration(data []byte) time.Duration {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0
	}
	byteRate := binary.LittleEndian.Uint32(data[28:32])
	if byteRate == 0 {
		return 0
	}
	seconds := float64(len(data)-44) / float64(byteRate)
	return time.Duration(seconds * float64(time.Second))
}
