package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	knownFormats        = []string{"jpeg", "png", "webp"}
	knownArchiveFormats = []string{"zip", "tar.gz"}
)

// Validate checks every section and parses duration fields.
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.validateBatch()...)
	errs = append(errs, c.validateStorage()...)

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) validateBatch() []error {
	b := c.Batch
	var errs []error

	if b.MaxItems < 1 || b.MaxItems > 1000 {
		errs = append(errs, fmt.Errorf("batch.max_items must be between 1 and 1000, got %d", b.MaxItems))
	}
	if b.MaxItemBytes <= 0 {
		errs = append(errs, fmt.Errorf("batch.max_item_bytes must be positive, got %d", b.MaxItemBytes))
	}
	if b.MaxOutputBytes < 0 {
		errs = append(errs, fmt.Errorf("batch.max_output_bytes must not be negative, got %d", b.MaxOutputBytes))
	}
	if b.MaxDimension < 0 {
		errs = append(errs, fmt.Errorf("batch.max_dimension must not be negative, got %d", b.MaxDimension))
	}
	for name, q := range map[string]float64{
		"initial_quality": b.InitialQuality,
		"quality_floor":   b.QualityFloor,
		"quality_step":    b.QualityStep,
	} {
		if q <= 0 || q > 1 {
			errs = append(errs, fmt.Errorf("batch.%s must be in (0, 1], got %v", name, q))
		}
	}
	if b.QualityFloor > b.InitialQuality {
		errs = append(errs, fmt.Errorf("batch.quality_floor (%v) exceeds initial_quality (%v)", b.QualityFloor, b.InitialQuality))
	}
	if !contains(knownFormats, b.IntermediateFormat) {
		errs = append(errs, fmt.Errorf("batch.intermediate_format %q is not one of %v", b.IntermediateFormat, knownFormats))
	}
	if !contains(knownFormats, b.OutputFormat) {
		errs = append(errs, fmt.Errorf("batch.output_format %q is not one of %v", b.OutputFormat, knownFormats))
	}
	if !contains(knownArchiveFormats, b.ArchiveFormat) {
		errs = append(errs, fmt.Errorf("batch.archive_format %q is not one of %v", b.ArchiveFormat, knownArchiveFormats))
	}
	if b.BulkDownloadThreshold < 1 {
		errs = append(errs, fmt.Errorf("batch.bulk_download_threshold must be at least 1, got %d", b.BulkDownloadThreshold))
	}

	delay, err := time.ParseDuration(b.ClearDelay)
	if err != nil || delay < 0 {
		errs = append(errs, fmt.Errorf("batch.clear_delay %q is not a valid duration", b.ClearDelay))
	}
	c.clearDelay = delay

	return errs
}

func (c *Config) validateStorage() []error {
	s := c.Storage
	var errs []error

	switch s.Backend {
	case "memory":
	case "s3":
		if strings.TrimSpace(s.Bucket) == "" {
			errs = append(errs, errors.New("storage.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be memory or s3, got %q", s.Backend))
	}

	ttl, err := time.ParseDuration(s.PresignTTL)
	if err != nil || ttl <= 0 {
		errs = append(errs, fmt.Errorf("storage.presign_ttl %q is not a valid positive duration", s.PresignTTL))
	}
	c.presignTTL = ttl

	return errs
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
