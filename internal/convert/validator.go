package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/barasher/go-exiftool"

	"github.com/acm19/picbatch/internal/logger"
)

// AllowedMIMETypes is the allow-list of sniffed content types admitted into a batch.
var AllowedMIMETypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/tiff",
	"image/heic",
	"image/heif",
}

// Verdict is the outcome of content validation.
type Verdict struct {
	Allowed  bool
	MIMEType string
	// Reason explains a rejection.
	Reason string
}

// Validator sniffs raw bytes and decides whether they may enter the pipeline.
type Validator interface {
	Validate(ctx context.Context, name string, data []byte) (Verdict, error)
}

// IsAllowedMIMEType reports whether mimeType is on the allow-list.
func IsAllowedMIMEType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, allowed := range AllowedMIMETypes {
		if mimeType == allowed {
			return true
		}
	}
	return false
}

func verdictFor(mimeType string) Verdict {
	if IsAllowedMIMEType(mimeType) {
		return Verdict{Allowed: true, MIMEType: mimeType}
	}
	return Verdict{MIMEType: mimeType, Reason: fmt.Sprintf("content type %s is not allowed", mimeType)}
}

// contentValidator sniffs with the codec's probe.
type contentValidator struct {
	codec Codec
}

// NewContentValidator creates a Validator backed by codec.ProbeFormat.
func NewContentValidator(codec Codec) Validator {
	return &contentValidator{codec: codec}
}

func (v *contentValidator) Validate(_ context.Context, name string, data []byte) (Verdict, error) {
	if len(data) == 0 {
		return Verdict{Reason: "file is 0 bytes (corrupted)"}, nil
	}
	probe := v.codec.ProbeFormat(data)
	if !probe.Known {
		logger.Debug("Content not recognised", "file", name)
		return Verdict{MIMEType: "application/octet-stream", Reason: "content type not recognised"}, nil
	}
	return verdictFor(probe.Format.MIMEType()), nil
}

// exiftoolValidator sniffs with exiftool and falls back to the codec probe when
// exiftool cannot read the file.
type exiftoolValidator struct {
	et       *exiftool.Exiftool
	fallback Validator
}

// NewExiftoolValidator creates a Validator that reads the MIMEType tag with exiftool.
func NewExiftoolValidator(et *exiftool.Exiftool, codec Codec) Validator {
	return &exiftoolValidator{
		et:       et,
		fallback: NewContentValidator(codec),
	}
}

func (v *exiftoolValidator) Validate(ctx context.Context, name string, data []byte) (Verdict, error) {
	if len(data) == 0 {
		return v.fallback.Validate(ctx, name, data)
	}

	tmpDir, err := os.MkdirTemp("", "picbatch-validate-*")
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "upload"+filepath.Ext(name))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return Verdict{}, fmt.Errorf("failed to write temp file: %w", err)
	}

	fileInfos := v.et.ExtractMetadata(path)
	if len(fileInfos) == 0 || fileInfos[0].Err != nil {
		logger.Debug("exiftool could not read file, using content probe", "file", name)
		return v.fallback.Validate(ctx, name, data)
	}

	mimeType, err := fileInfos[0].GetString("MIMEType")
	if err != nil {
		logger.Debug("exiftool reported no MIMEType, using content probe", "file", name)
		return v.fallback.Validate(ctx, name, data)
	}
	return verdictFor(mimeType), nil
}
