package convert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/acm19/picbatch/internal/logger"
)

// Normalizer transcodes formats that are not directly renderable into an
// intermediate raster-compatible format.
type Normalizer interface {
	// Normalize returns data re-encoded as JPEG when from needs normalisation,
	// otherwise data and from unchanged.
	Normalize(ctx context.Context, data []byte, from Format) ([]byte, Format, error)
}

// toolNormalizer converts HEIC/HEIF with heif-convert and TIFF with the codec.
type toolNormalizer struct {
	codec           Codec
	heifConvertPath string
	quality         float64
}

// NewNormalizer creates a Normalizer. heifConvertPath is the heif-convert binary
// (libheif); TIFF is handled in-process.
func NewNormalizer(codec Codec, heifConvertPath string, quality float64) Normalizer {
	if heifConvertPath == "" {
		heifConvertPath = "heif-convert"
	}
	return &toolNormalizer{
		codec:           codec,
		heifConvertPath: heifConvertPath,
		quality:         quality,
	}
}

// Normalize transcodes data to JPEG when required.
func (n *toolNormalizer) Normalize(ctx context.Context, data []byte, from Format) ([]byte, Format, error) {
	switch from {
	case FormatHEIC, FormatHEIF:
		out, err := n.convertHEIF(ctx, data, from)
		if err != nil {
			return nil, "", err
		}
		return out, FormatJPEG, nil
	case FormatTIFF:
		img, err := n.codec.Decode(data, from)
		if err != nil {
			return nil, "", err
		}
		out, err := n.codec.Encode(img, FormatJPEG, n.quality)
		if err != nil {
			return nil, "", fmt.Errorf("%w: tiff to jpeg: %v", ErrNormalizeFailure, err)
		}
		return out, FormatJPEG, nil
	default:
		return data, from, nil
	}
}

// convertHEIF runs heif-convert on a temporary copy of data.
func (n *toolNormalizer) convertHEIF(ctx context.Context, data []byte, from Format) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "picbatch-heif-*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create temp directory: %v", ErrNormalizeFailure, err)
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, "input"+from.Extension())
	outPath := filepath.Join(tmpDir, "output.jpg")
	if err := os.WriteFile(inPath, data, 0600); err != nil {
		return nil, fmt.Errorf("%w: failed to write input: %v", ErrNormalizeFailure, err)
	}

	logger.Debug("Converting HEIF to JPEG", "tool", n.heifConvertPath, "bytes", len(data))
	cmd := exec.CommandContext(ctx, n.heifConvertPath, "-q", strconv.Itoa(qualityPercent(n.quality)), inPath, outPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: %s failed: %v, output: %s", ErrNormalizeFailure, filepath.Base(n.heifConvertPath), err, strings.TrimSpace(string(output)))
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s produced no output: %v", ErrNormalizeFailure, filepath.Base(n.heifConvertPath), err)
	}
	return out, nil
}
