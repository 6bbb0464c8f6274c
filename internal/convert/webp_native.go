//go:build !cgo || purego

package convert

import (
	"image"
	"io"

	"github.com/HugoSmits86/nativewebp"
)

// encodeWebP writes a lossless WebP with the pure-Go encoder; quality is ignored.
// Builds without cgo, or with -tags purego, use this encoder.
func encodeWebP(w io.Writer, img image.Image, quality float64) error {
	return nativewebp.Encode(w, img, nil)
}
