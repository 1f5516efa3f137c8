package image

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"percepto-server-go/internal/utils"
)

func testLogger(t *testing.T) *utils.Logger {
	t.Helper()
	logger, err := utils.NewLogger(&utils.LogCfg{
		LogLevel: "error",
		LogDir:   t.TempDir(),
		LogFile:  "test.log",
	})
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	t.Cleanup(func() {
		_ = logger.Close()
	})
	return logger
}

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// noiseImage is deliberately incompressible.
func noiseImage(w, h int) image.Image {
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 0xFF,
			})
		}
	}
	return img
}

func TestReduceSmallImage(t *testing.T) {
	reducer := NewReducer(testLogger(t))

	encoded, err := reducer.Reduce(context.Background(), solidImage(100, 80, color.RGBA{R: 200, A: 255}))
	if err != nil {
		t.Fatalf("Reduce returned error: %v", err)
	}
	if encoded.Format != "jpeg" {
		t.Fatalf("expected jpeg format, got %s", encoded.Format)
	}
	if len(encoded.Bytes) >= PayloadCeiling {
		t.Fatalf("payload not under ceiling: %d bytes", len(encoded.Bytes))
	}
	if encoded.Width != 100 || encoded.Height != 80 {
		t.Fatalf("small image should keep dimensions, got %dx%d", encoded.Width, encoded.Height)
	}
}

func TestReduceDownscalesOversizedImage(t *testing.T) {
	reducer := NewReducer(testLogger(t))

	encoded, err := reducer.Reduce(context.Background(), solidImage(3840, 2160, color.RGBA{G: 120, A: 255}))
	if err != nil {
		t.Fatalf("Reduce returned error: %v", err)
	}
	if encoded.Width != 1920 {
		t.Fatalf("expected longest side 1920, got %d", encoded.Width)
	}
	if encoded.Height != 1080 {
		t.Fatalf("expected proportional height 1080, got %d", encoded.Height)
	}
}

func TestReducePreservesAspectRatio(t *testing.T) {
	reducer := NewReducer(testLogger(t))

	// odd ratio forces rounding on the shorter side
	src := solidImage(3001, 1999, color.RGBA{B: 90, A: 255})
	encoded, err := reducer.Reduce(context.Background(), src)
	if err != nil {
		t.Fatalf("Reduce returned error: %v", err)
	}

	wantHeight := float64(1999) * float64(1920) / float64(3001)
	diff := float64(encoded.Height) - wantHeight
	if diff < -1 || diff > 1 {
		t.Fatalf("aspect ratio off by more than one pixel: got height %d, want ~%.2f", encoded.Height, wantHeight)
	}
}

func TestReduceIncompressibleImageStaysUnderCeiling(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping noise image generation in short mode")
	}
	reducer := NewReducer(testLogger(t))

	encoded, err := reducer.Reduce(context.Background(), noiseImage(2600, 2600))
	if err != nil {
		t.Fatalf("Reduce returned error: %v", err)
	}
	if len(encoded.Bytes) >= PayloadCeiling {
		t.Fatalf("incompressible image exceeded ceiling: %d bytes", len(encoded.Bytes))
	}
}

func TestReduceFlattensAlpha(t *testing.T) {
	reducer := NewReducer(testLogger(t))

	src := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: uint8(x * 4)})
		}
	}

	encoded, err := reducer.Reduce(context.Background(), src)
	if err != nil {
		t.Fatalf("Reduce returned error: %v", err)
	}
	if encoded.Width != 64 || encoded.Height != 48 {
		t.Fatalf("flattening changed dimensions: %dx%d", encoded.Width, encoded.Height)
	}

	decoded, _, err := image.Decode(bytes.NewReader(encoded.Bytes))
	if err != nil {
		t.Fatalf("re-decode returned error: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() != 64 || b.Dy() != 48 {
		t.Fatalf("decoded dimensions differ: %dx%d", b.Dx(), b.Dy())
	}
}

func TestReduceBytesRejectsGarbage(t *testing.T) {
	reducer := NewReducer(testLogger(t))

	if _, err := reducer.ReduceBytes(context.Background(), []byte("not an image")); err == nil {
		t.Fatal("expected decode error for garbage input")
	}
}

func TestReduceBytesRoundTrip(t *testing.T) {
	reducer := NewReducer(testLogger(t))

	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(320, 240, color.RGBA{R: 1, G: 2, B: 3, A: 255})); err != nil {
		t.Fatalf("png encode returned error: %v", err)
	}

	encoded, err := reducer.ReduceBytes(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("ReduceBytes returned error: %v", err)
	}
	if encoded.Width != 320 || encoded.Height != 240 {
		t.Fatalf("unexpected dimensions: %dx%d", encoded.Width, encoded.Height)
	}
}

func TestFlattenAlphaKeepsOpaqueImages(t *testing.T) {
	src := solidImage(10, 10, color.RGBA{R: 5, A: 255})
	if flattenAlpha(src) != src {
		t.Fatal("opaque image should be returned unchanged")
	}
}

func TestScaleToFitRounding(t *testing.T) {
	tests := []struct {
		w, h    int
		maxSide int
		wantW   int
		wantH   int
	}{
		{1920, 1080, 1920, 1920, 1080},
		{4000, 1000, 1920, 1920, 480},
		{1000, 4000, 1920, 480, 1920},
		{333, 777, 100, 43, 100},
	}

	for _, tt := range tests {
		got := scaleToFit(solidImage(tt.w, tt.h, color.White), tt.maxSide)
		b := got.Bounds()
		if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
			t.Errorf("scaleToFit(%dx%d, %d) = %dx%d, want %dx%d",
				tt.w, tt.h, tt.maxSide, b.Dx(), b.Dy(), tt.wantW, tt.wantH)
		}
	}
}
