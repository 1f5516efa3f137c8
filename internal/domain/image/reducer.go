package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"

	platformerrors "percepto-server-go/internal/platform/errors"
	"percepto-server-go/internal/utils"
)

const (
	// PayloadCeiling is the maximum byte size the description service
	// accepts for an image attachment. Results must be strictly smaller.
	PayloadCeiling = 5 * 1024 * 1024

	// MaxDimension is the longest side allowed before the quality ladder runs.
	MaxDimension = 1920

	ladderQuality = 50
	finalMaxSide  = 480
	finalQuality  = 30
)

var (
	qualityLadder   = []int{85, 70, 50, 30}
	dimensionLadder = []int{1280, 960, 640}
)

// Reducer produces a JPEG encoding of an arbitrary image guaranteed (best
// effort, see Reduce) to fit under the payload ceiling.
type Reducer struct {
	logger *utils.Logger
}

// NewReducer constructs a reducer.
func NewReducer(logger *utils.Logger) *Reducer {
	if logger == nil {
		logger = utils.DefaultLogger
	}
	return &Reducer{logger: logger}
}

// ReduceBytes decodes raw image bytes and reduces them.
func (r *Reducer) ReduceBytes(ctx context.Context, raw []byte) (*Encoded, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, platformerrors.Wrap(
			platformerrors.KindImage,
			"reduce.decode",
			"unable to decode image",
			err,
		)
	}
	return r.Reduce(ctx, img)
}

// Reduce runs the compression ladder, first success wins:
//
//  1. flatten any alpha channel (the channel is discarded, not blended
//     against a background; a known lossy step)
//  2. downscale so the longest side is at most 1920px
//  3. encode at qualities 85, 70, 50, 30; accept the first result under
//     the ceiling
//  4. downscale the longest side to 1280, 960, 640 (when still larger),
//     re-encoding at quality 50 each time
//  5. downscale to 480px at quality 30 and return unconditionally
//
// The final step is assumed sufficient; an over-ceiling result there is
// returned anyway and logged as a warning.
func (r *Reducer) Reduce(ctx context.Context, img image.Image) (*Encoded, error) {
	if img == nil {
		return nil, platformerrors.New(platformerrors.KindImage, "reduce", "nil image")
	}

	img = flattenAlpha(img)
	img = scaleToFit(img, MaxDimension)

	for _, quality := range qualityLadder {
		if err := ctx.Err(); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindImage, "reduce", "cancelled", err)
		}

		encoded, err := encodeJPEG(img, quality)
		if err != nil {
			return nil, err
		}
		if len(encoded) < PayloadCeiling {
			return newEncoded(encoded, img), nil
		}
		r.logger.DebugTag("Image", "quality %d still %d bytes, trying next", quality, len(encoded))
	}

	for _, maxSide := range dimensionLadder {
		if err := ctx.Err(); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindImage, "reduce", "cancelled", err)
		}
		if longestSide(img) <= maxSide {
			continue
		}

		img = scaleToFit(img, maxSide)
		encoded, err := encodeJPEG(img, ladderQuality)
		if err != nil {
			return nil, err
		}
		if len(encoded) < PayloadCeiling {
			return newEncoded(encoded, img), nil
		}
		r.logger.DebugTag("Image", "side %d still %d bytes, trying next", maxSide, len(encoded))
	}

	img = scaleToFit(img, finalMaxSide)
	encoded, err := encodeJPEG(img, finalQuality)
	if err != nil {
		return nil, err
	}
	if len(encoded) >= PayloadCeiling {
		r.logger.WarnTag("Image",
			"final fallback still exceeds payload ceiling: %d bytes", len(encoded))
	}
	return newEncoded(encoded, img), nil
}

func newEncoded(data []byte, img image.Image) *Encoded {
	bounds := img.Bounds()
	return &Encoded{
		Bytes:  data,
		Format: "jpeg",
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, platformerrors.Wrap(
			platformerrors.KindImage,
			"reduce.encode",
			fmt.Sprintf("jpeg encode at quality %d", quality),
			err,
		)
	}
	return buf.Bytes(), nil
}

func longestSide(img image.Image) int {
	bounds := img.Bounds()
	if bounds.Dx() >= bounds.Dy() {
		return bounds.Dx()
	}
	return bounds.Dy()
}

// flattenAlpha drops the alpha channel, keeping the stored color values.
// Fully transparent pixels keep whatever RGB they carry; nothing is
// composited against a background.
func flattenAlpha(img image.Image) image.Image {
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return img
	}

	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			dst.SetRGBA(x-bounds.Min.X, y-bounds.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xFF})
		}
	}
	return dst
}

// scaleToFit proportionally downscales so the longest side equals maxSide.
// Images already within bounds are returned untouched; the shorter side is
// rounded to the nearest pixel.
func scaleToFit(img image.Image, maxSide int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxSide && h <= maxSide {
		return img
	}

	var newW, newH int
	if w >= h {
		newW = maxSide
		newH = int(math.Round(float64(h) * float64(maxSide) / float64(w)))
	} else {
		newH = maxSide
		newW = int(math.Round(float64(w) * float64(maxSide) / float64(h)))
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}
