package convert

import (
	"fmt"
	"strings"
)

// Format identifies an image container format.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWebP Format = "webp"
	FormatTIFF Format = "tiff"
	FormatBMP  Format = "bmp"
	FormatHEIC Format = "heic"
	FormatHEIF Format = "heif"
)

type formatInfo struct {
	ext       string
	mime      string
	normalize bool
}

var formats = map[Format]formatInfo{
	FormatJPEG: {ext: ".jpg", mime: "image/jpeg"},
	FormatPNG:  {ext: ".png", mime: "image/png"},
	FormatGIF:  {ext: ".gif", mime: "image/gif"},
	FormatWebP: {ext: ".webp", mime: "image/webp"},
	FormatTIFF: {ext: ".tiff", mime: "image/tiff", normalize: true},
	FormatBMP:  {ext: ".bmp", mime: "image/bmp"},
	FormatHEIC: {ext: ".heic", mime: "image/heic", normalize: true},
	FormatHEIF: {ext: ".heif", mime: "image/heif", normalize: true},
}

// ParseFormat maps a format name or file extension to a Format.
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
	switch name {
	case "jpg", "jpe":
		name = "jpeg"
	case "tif":
		name = "tiff"
	}
	f := Format(name)
	if _, ok := formats[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return f, nil
}

// Extension returns the file extension for f, including the dot.
func (f Format) Extension() string {
	return formats[f].ext
}

// MIMEType returns the media type for f.
func (f Format) MIMEType() string {
	if info, ok := formats[f]; ok {
		return info.mime
	}
	return "application/octet-stream"
}

// NeedsNormalization reports whether f is transcoded to JPEG before the main path.
func (f Format) NeedsNormalization() bool {
	return formats[f].normalize
}

func (f Format) String() string {
	return string(f)
}

// Probe is the result of sniffing content: either a known Format or unknown.
type Probe struct {
	Known  bool
	Format Format
}

// KnownFormat returns a Probe for a recognised format.
func KnownFormat(f Format) Probe {
	return Probe{Known: true, Format: f}
}

// UnknownFormat returns a Probe for unrecognised content.
func UnknownFormat() Probe {
	return Probe{}
}

func (p Probe) String() string {
	if !p.Known {
		return "unknown"
	}
	return p.Format.String()
}
