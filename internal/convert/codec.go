package convert

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Codec decodes, resamples and encodes rasters.
type Codec interface {
	// ProbeFormat sniffs the content format from the bytes, ignoring any file name.
	ProbeFormat(data []byte) Probe
	// Decode turns data of the given format into a raster.
	Decode(data []byte, format Format) (image.Image, error)
	// Resample scales img down so its longer side is at most maxDimension. It never upscales.
	Resample(img image.Image, maxDimension int) image.Image
	// Encode writes img in format at quality (0, 1]. Lossless formats ignore quality.
	Encode(img image.Image, format Format, quality float64) ([]byte, error)
}

// imageCodec implements Codec with the Go image decoders, imaging and a WebP encoder.
type imageCodec struct{}

// NewImageCodec creates the default Codec.
func NewImageCodec() Codec {
	return &imageCodec{}
}

// heicBrands and heifBrands are ISO-BMFF major brands of HEIF images.
var (
	heicBrands = []string{"heic", "heix", "hevc", "hevx", "heim", "heis", "hevm", "hevs"}
	heifBrands = []string{"mif1", "msf1", "heif"}
	avifBrands = []string{"avif", "avis"}
)

// ProbeFormat sniffs the content format.
func (c *imageCodec) ProbeFormat(data []byte) Probe {
	if f, ok := sniffHEIF(data); ok {
		return KnownFormat(f)
	}
	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return UnknownFormat()
	}
	f, err := ParseFormat(name)
	if err != nil {
		return UnknownFormat()
	}
	return KnownFormat(f)
}

// sniffHEIF recognises HEIC/HEIF by the ftyp box. AVIF shares the container and is
// reported as not HEIF.
func sniffHEIF(data []byte) (Format, bool) {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return "", false
	}
	boxSize := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if boxSize < 16 || boxSize > len(data) {
		boxSize = len(data)
	}
	major := string(data[8:12])
	for off := 16; off+4 <= boxSize; off += 4 {
		if contains(avifBrands, string(data[off:off+4])) {
			return "", false
		}
	}
	switch {
	case contains(avifBrands, major):
		return "", false
	case contains(heicBrands, major):
		return FormatHEIC, true
	case contains(heifBrands, major):
		return FormatHEIF, true
	}
	return "", false
}

// Decode decodes data, applying EXIF orientation.
func (c *imageCodec) Decode(data []byte, format Format) (image.Image, error) {
	switch format {
	case FormatHEIC, FormatHEIF:
		return nil, fmt.Errorf("%w: %s must be normalized before decoding", ErrUnsupportedFormat, format)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptPayload, format, err)
	}
	return img, nil
}

// Resample fits img inside maxDimension x maxDimension using Lanczos.
func (c *imageCodec) Resample(img image.Image, maxDimension int) image.Image {
	if maxDimension <= 0 {
		return img
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxDimension && bounds.Dy() <= maxDimension {
		return img
	}
	return imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
}

// Encode encodes img in format.
func (c *imageCodec) Encode(img image.Image, format Format, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(qualityPercent(quality)))
	case FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	case FormatGIF:
		err = imaging.Encode(&buf, img, imaging.GIF)
	case FormatTIFF:
		err = imaging.Encode(&buf, img, imaging.TIFF)
	case FormatBMP:
		err = imaging.Encode(&buf, img, imaging.BMP)
	case FormatWebP:
		err = encodeWebP(&buf, img, quality)
	default:
		return nil, fmt.Errorf("%w: cannot encode %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncodeFailure, format, err)
	}
	return buf.Bytes(), nil
}

// qualityPercent maps a (0, 1] quality to the 1-100 scale encoders use.
func qualityPercent(quality float64) int {
	p := int(math.Round(quality * 100))
	if p < 1 {
		return 1
	}
	if p > 100 {
		return 100
	}
	return p
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
