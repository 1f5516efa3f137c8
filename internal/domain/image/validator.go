package image

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"percepto-server-go/internal/platform/config"
	platformerrors "percepto-server-go/internal/platform/errors"
	"percepto-server-go/internal/utils"
)

// Validator performs layered checks against incoming image uploads.
type Validator struct {
	config *config.UploadConfig
	logger *utils.Logger
}

// NewValidator constructs a new validator instance.
func NewValidator(config *config.UploadConfig, logger *utils.Logger) *Validator {
	return &Validator{
		config: config,
		logger: logger,
	}
}

var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"jpg":  {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"webp": {0x52, 0x49, 0x46, 0x46},
	"bmp":  {0x42, 0x4D},
}

// CheckUploadSize enforces the upload ceiling before any bytes are decoded.
// The returned error reports both the limit and the actual size in MB with
// one decimal place.
func (v *Validator) CheckUploadSize(size int64) error {
	maxSize := v.config.MaxFileSize
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024
	}
	if size > maxSize {
		return platformerrors.New(
			platformerrors.KindImage,
			"check_size",
			fmt.Sprintf("file too large: maximum size allowed is %dMB, your file is %.1fMB",
				maxSize/1024/1024,
				float64(size)/1024/1024),
		)
	}
	return nil
}

// ValidateBytes validates raw upload bytes directly.
func (v *Validator) ValidateBytes(raw []byte, declaredFormat string) ValidationResult {
	result := ValidationResult{IsValid: false}

	if len(raw) == 0 {
		result.Error = fmt.Errorf("empty image payload")
		return result
	}

	if err := v.CheckUploadSize(int64(len(raw))); err != nil {
		result.Error = err
		result.Risk = "file too large"
		v.logger.Warn(
			"detected oversized image: size=%d max_size=%d format=%s",
			len(raw),
			v.config.MaxFileSize,
			declaredFormat,
		)
		return result
	}

	if declaredFormat != "" && !v.isFormatAllowed(declaredFormat) {
		result.Error = fmt.Errorf("unsupported format: %s", declaredFormat)
		result.Risk = "unapproved format"
		return result
	}

	decodeResult := v.validateImageDecoding(raw, declaredFormat)
	if !decodeResult.IsValid {
		if declaredFormat != "" && !v.validateFileSignature(raw, declaredFormat) {
			actualHeader := fmt.Sprintf("%x", raw[:min(len(raw), 16)])
			v.logger.Warn(
				"file signature mismatch: declared_format=%s actual_header=%s",
				declaredFormat,
				actualHeader,
			)
		}
		return decodeResult
	}

	result = decodeResult
	result.IsValid = true
	result.FileSize = int64(len(raw))
	return result
}

func (v *Validator) isFormatAllowed(format string) bool {
	if v.config == nil || len(v.config.AllowedFormats) == 0 {
		return true
	}
	if format == "" {
		return true
	}

	format = strings.ToLower(format)
	for _, allowedFormat := range v.config.AllowedFormats {
		if strings.ToLower(allowedFormat) == format {
			return true
		}
	}
	return false
}

func (v *Validator) validateFileSignature(raw []byte, format string) bool {
	signature, ok := imageSignatures[strings.ToLower(format)]
	if !ok || len(signature) == 0 {
		return true
	}
	if len(raw) < len(signature) {
		return false
	}
	return bytes.Equal(signature, raw[:len(signature)])
}

func (v *Validator) validateImageDecoding(raw []byte, format string) ValidationResult {
	result := ValidationResult{Format: format}
	reader := bytes.NewReader(raw)

	cfg, actualFormat, err := image.DecodeConfig(reader)
	if err != nil {
		result.Error = fmt.Errorf("decode image config: %w", err)
		result.Risk = "corrupted image data"
		return result
	}

	if actualFormat != "" {
		result.Format = actualFormat
	}

	if !v.isFormatAllowed(result.Format) {
		result.Error = fmt.Errorf("unsupported format: %s", result.Format)
		result.Risk = "unapproved format"
		return result
	}

	if v.config.MaxWidth > 0 && v.config.MaxHeight > 0 {
		if cfg.Width > v.config.MaxWidth || cfg.Height > v.config.MaxHeight {
			result.Error = fmt.Errorf("dimensions exceed limit: %dx%d (max %dx%d)",
				cfg.Width, cfg.Height, v.config.MaxWidth, v.config.MaxHeight)
			result.Risk = "dimensions too large"
			return result
		}
	}

	if v.config.MaxPixels > 0 {
		totalPixels := int64(cfg.Width) * int64(cfg.Height)
		if totalPixels > v.config.MaxPixels {
			result.Error = fmt.Errorf("pixel count exceeds limit: %d (max %d)", totalPixels, v.config.MaxPixels)
			result.Risk = "pixel count too high"
			return result
		}
	}

	result.IsValid = true
	result.Width = cfg.Width
	result.Height = cfg.Height
	result.FileSize = int64(len(raw))

	v.logger.Debug(
		"image validation success: format=%s width=%d height=%d size=%d",
		result.Format,
		result.Width,
		result.Height,
		result.FileSize,
	)

	return result
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
