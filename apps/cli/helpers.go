package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/acm19/picbatch/internal/config"
	"github.com/acm19/picbatch/internal/convert"
	"github.com/acm19/picbatch/internal/store"
)

// overrides holds the convert flags the user set explicitly.
type overrides struct {
	maxSizeMB     *float64
	maxDimension  *int
	quality       *float64
	archiveFormat *string
}

func overridesFromFlags(cmd *cobra.Command) overrides {
	var o overrides
	flags := cmd.Flags()
	if flags.Changed("max-size-mb") {
		o.maxSizeMB = &maxSizeMB
	}
	if flags.Changed("max-dimension") {
		o.maxDimension = &maxDimension
	}
	if flags.Changed("quality") {
		o.quality = &quality
	}
	if flags.Changed("archive-format") {
		o.archiveFormat = &archiveFormat
	}
	return o
}

// applyOverrides returns opts with the explicitly set flags applied.
func applyOverrides(opts convert.Options, o overrides) (convert.Options, error) {
	if o.maxSizeMB != nil {
		if *o.maxSizeMB <= 0 {
			return opts, fmt.Errorf("max-size-mb must be positive, got %v", *o.maxSizeMB)
		}
		opts.Constraints.MaxBytes = megabytesToBytes(*o.maxSizeMB)
	}
	if o.maxDimension != nil {
		if *o.maxDimension < 0 {
			return opts, fmt.Errorf("max-dimension must not be negative, got %d", *o.maxDimension)
		}
		opts.Constraints.MaxDimension = *o.maxDimension
	}
	if o.quality != nil {
		if *o.quality <= 0 || *o.quality > 1 {
			return opts, fmt.Errorf("quality must be in (0, 1], got %v", *o.quality)
		}
		opts.Planner.InitialQuality = *o.quality
		if opts.Planner.QualityFloor > *o.quality {
			opts.Planner.QualityFloor = *o.quality
		}
	}
	if o.archiveFormat != nil {
		f, err := convert.ParseArchiveFormat(*o.archiveFormat)
		if err != nil {
			return opts, err
		}
		opts.ArchiveFormat = f
	}
	return opts, nil
}

// megabytesToBytes converts MB (1024*1024 bytes) to a byte count.
func megabytesToBytes(mb float64) int64 {
	return int64(mb * 1024 * 1024)
}

// imageExtensions are the file extensions picked up when walking a directory.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".tif", ".tiff", ".heic", ".heif"}

func isImagePath(path string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(path)))
}

// expandPaths replaces every directory in paths with the image files below it,
// in lexical order. Files named explicitly are kept whatever their extension.
func expandPaths(paths []string) ([]string, error) {
	var expanded []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", path, err)
		}
		if !info.IsDir() {
			expanded = append(expanded, path)
			continue
		}

		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p != path && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() && isImagePath(p) {
				expanded = append(expanded, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", path, err)
		}
	}
	return expanded, nil
}

// readSourceItems reads every path. Files above maxBytes are not read; their size
// alone gets them rejected at admission.
func readSourceItems(paths []string, maxBytes int64) ([]convert.SourceItem, error) {
	items := make([]convert.SourceItem, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot access file: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", path)
		}

		item := convert.SourceItem{
			OriginalName: filepath.Base(path),
			ByteSize:     info.Size(),
		}
		if info.Size() <= maxBytes {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			item.Payload = data
		}
		items = append(items, item)
	}
	return items, nil
}

// resultSource is the part of the coordinator needed to export outputs.
type resultSource interface {
	Results() []convert.ResultRecord
	Open(ctx context.Context, name string) (io.ReadCloser, convert.ResultRecord, error)
	WriteArchive(ctx context.Context, w io.Writer) error
	ArchiveName() string
}

// writeOutputs copies every completed output into dir and returns the written paths.
func writeOutputs(ctx context.Context, src resultSource, dir string) ([]string, error) {
	var written []string
	for _, r := range src.Results() {
		path := filepath.Join(dir, r.OutputName)
		if err := copyResult(ctx, src, r.OutputName, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func copyResult(ctx context.Context, src resultSource, name, path string) error {
	rc, _, err := src.Open(ctx, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// writeArchiveFile writes the archive of all outputs into dir.
func writeArchiveFile(ctx context.Context, src resultSource, dir string) (string, error) {
	path := filepath.Join(dir, src.ArchiveName())
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := src.WriteArchive(ctx, f); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}

// validateFiles runs validator over paths and returns table rows and the rejected count.
func validateFiles(ctx context.Context, validator convert.Validator, paths []string) ([][]string, int, error) {
	rows := make([][]string, 0, len(paths))
	rejected := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read %s: %w", path, err)
		}
		verdict, err := validator.Validate(ctx, filepath.Base(path), data)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to validate %s: %w", path, err)
		}
		if !verdict.Allowed {
			rejected++
		}
		rows = append(rows, []string{filepath.Base(path), strconv.FormatBool(verdict.Allowed), verdict.MIMEType, verdict.Reason})
	}
	return rows, rejected, nil
}

// newStore builds the configured output store.
func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "s3":
		st, err := store.NewS3Store(ctx, cfg.Storage.Bucket, cfg.Storage.Prefix, cfg.PresignTTL())
		if err != nil {
			return nil, fmt.Errorf("failed to initialise s3 store: %w", err)
		}
		return st, nil
	default:
		return store.NewMemoryStore(), nil
	}
}
