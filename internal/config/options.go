package config

import (
	"fmt"

	"github.com/acm19/picbatch/internal/convert"
)

// ConvertOptions maps the batch and tools sections onto convert.Options.
// The config must have been validated.
func (c *Config) ConvertOptions() (convert.Options, error) {
	opts := convert.DefaultOptions()
	b := c.Batch

	intermediate, err := convert.ParseFormat(b.IntermediateFormat)
	if err != nil {
		return opts, fmt.Errorf("batch.intermediate_format: %w", err)
	}
	output, err := convert.ParseFormat(b.OutputFormat)
	if err != nil {
		return opts, fmt.Errorf("batch.output_format: %w", err)
	}
	archive, err := convert.ParseArchiveFormat(b.ArchiveFormat)
	if err != nil {
		return opts, fmt.Errorf("batch.archive_format: %w", err)
	}

	opts.MaxItems = b.MaxItems
	opts.MaxItemBytes = b.MaxItemBytes
	opts.Constraints = convert.Constraints{
		MaxBytes:     b.MaxOutputBytes,
		MaxDimension: b.MaxDimension,
	}
	opts.Planner = convert.PlannerOptions{
		InitialQuality: b.InitialQuality,
		QualityFloor:   b.QualityFloor,
		QualityStep:    b.QualityStep,
		Format:         intermediate,
	}
	opts.OutputFormat = output
	opts.ArchiveFormat = archive
	opts.ClearDelay = c.clearDelay
	opts.BulkDownloadThreshold = b.BulkDownloadThreshold
	if c.Tools.HeifConvert != "" {
		opts.HeifConvertPath = c.Tools.HeifConvert
	}
	return opts, nil
}
