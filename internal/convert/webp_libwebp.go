//go:build cgo && !purego

package convert

import (
	"image"
	"io"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// encodeWebP writes a lossy WebP through libwebp at the given quality.
func encodeWebP(w io.Writer, img image.Image, quality float64) error {
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(qualityPercent(quality)))
	if err != nil {
		return err
	}
	return webp.Encode(w, img, options)
}
