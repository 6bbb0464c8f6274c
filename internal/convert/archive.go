package convert

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/acm19/picbatch/internal/logger"
	"github.com/acm19/picbatch/internal/store"
)

// ArchiveFormat selects the archive container.
type ArchiveFormat string

const (
	ArchiveZip   ArchiveFormat = "zip"
	ArchiveTarGz ArchiveFormat = "tar.gz"
)

const archiveBaseName = "converted_images"

// ParseArchiveFormat maps "zip", "tar.gz" or "tgz" to an ArchiveFormat.
func ParseArchiveFormat(s string) (ArchiveFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zip", "":
		return ArchiveZip, nil
	case "tar.gz", "tgz":
		return ArchiveTarGz, nil
	}
	return "", fmt.Errorf("unknown archive format %q", s)
}

// FileName returns the download name of an archive in format f.
func (f ArchiveFormat) FileName() string {
	return archiveBaseName + "." + string(f)
}

// ContentType returns the media type of an archive in format f.
func (f ArchiveFormat) ContentType() string {
	if f == ArchiveTarGz {
		return "application/gzip"
	}
	return "application/zip"
}

// ArchiveBuilder packages completed results into one archive.
type ArchiveBuilder struct {
	store  store.Store
	format ArchiveFormat
	// modTime stamps every entry; zero means time.Now at write.
	modTime time.Time
}

// NewArchiveBuilder creates an ArchiveBuilder reading result bytes from st.
func NewArchiveBuilder(st store.Store, format ArchiveFormat) *ArchiveBuilder {
	if format == "" {
		format = ArchiveZip
	}
	return &ArchiveBuilder{store: st, format: format}
}

// Format returns the archive container the builder writes.
func (b *ArchiveBuilder) Format() ArchiveFormat {
	return b.format
}

// Build returns the archive of every completed record. An empty set yields a valid empty archive.
func (b *ArchiveBuilder) Build(ctx context.Context, results []ResultRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := b.Write(ctx, &buf, results); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams the archive of every completed record to w, keyed by OutputName.
func (b *ArchiveBuilder) Write(ctx context.Context, w io.Writer, results []ResultRecord) error {
	entries := make([]ResultRecord, 0, len(results))
	for _, r := range results {
		if r.Status != StateCompleted {
			continue
		}
		entries = append(entries, r)
	}
	logger.Debug("Building archive", "format", b.format, "entries", len(entries))

	modTime := b.modTime
	if modTime.IsZero() {
		modTime = time.Now()
	}

	switch b.format {
	case ArchiveTarGz:
		return b.writeTarGz(ctx, w, entries, modTime)
	default:
		return b.writeZip(ctx, w, entries, modTime)
	}
}

func (b *ArchiveBuilder) writeZip(ctx context.Context, w io.Writer, entries []ResultRecord, modTime time.Time) error {
	zw := zip.NewWriter(w)
	for _, r := range entries {
		data, err := store.ReadAll(ctx, b.store, r.Handle)
		if err != nil {
			zw.Close()
			return fmt.Errorf("failed to read %s: %w", r.OutputName, err)
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     r.OutputName,
			Method:   zip.Deflate,
			Modified: modTime,
		})
		if err != nil {
			zw.Close()
			return fmt.Errorf("failed to add %s: %w", r.OutputName, err)
		}
		if _, err := fw.Write(data); err != nil {
			zw.Close()
			return fmt.Errorf("failed to write %s: %w", r.OutputName, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalise zip: %w", err)
	}
	return nil
}

func (b *ArchiveBuilder) writeTarGz(ctx context.Context, w io.Writer, entries []ResultRecord, modTime time.Time) error {
	gzWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzWriter)
	abort := func() {
		tarWriter.Close()
		gzWriter.Close()
	}

	for _, r := range entries {
		data, err := store.ReadAll(ctx, b.store, r.Handle)
		if err != nil {
			abort()
			return fmt.Errorf("failed to read %s: %w", r.OutputName, err)
		}
		header := &tar.Header{
			Name:    r.OutputName,
			Mode:    0644,
			Size:    int64(len(data)),
			ModTime: modTime,
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			abort()
			return fmt.Errorf("failed to add %s: %w", r.OutputName, err)
		}
		if _, err := tarWriter.Write(data); err != nil {
			abort()
			return fmt.Errorf("failed to write %s: %w", r.OutputName, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		gzWriter.Close()
		return fmt.Errorf("failed to finalise tar: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("failed to finalise gzip: %w", err)
	}
	return nil
}
