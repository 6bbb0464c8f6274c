package convert

import (
	"fmt"
	"image"

	"github.com/acm19/picbatch/internal/logger"
)

// Constraints bound one output.
type Constraints struct {
	// MaxBytes is the best-effort size budget. Zero disables the budget.
	MaxBytes int64
	// MaxDimension bounds the longer side in pixels. Zero disables resampling.
	MaxDimension int
}

// PlannerOptions configures the quality search.
type PlannerOptions struct {
	InitialQuality float64
	QualityFloor   float64
	QualityStep    float64
	// Format is the intermediate format the search encodes to. It should be lossy.
	Format Format
}

// DefaultPlannerOptions returns a search starting at 0.7 down to 0.1 in 0.1 steps, encoding JPEG.
func DefaultPlannerOptions() PlannerOptions {
	return PlannerOptions{
		InitialQuality: 0.7,
		QualityFloor:   0.1,
		QualityStep:    0.1,
		Format:         FormatJPEG,
	}
}

// Plan is the outcome of a quality search.
type Plan struct {
	Data     []byte
	Quality  float64
	Attempts int
	// WithinBudget is false when the floor was reached, or encoding failed, above MaxBytes.
	WithinBudget bool
	Width        int
	Height       int
}

// CompressionPlanner searches the encode quality that fits a size budget.
// Qualities are tracked in whole percent so the loop cannot drift past the floor.
type CompressionPlanner struct {
	codec   Codec
	format  Format
	initial int
	floor   int
	step    int
}

// NewCompressionPlanner creates a planner. Out-of-range options are clamped.
func NewCompressionPlanner(codec Codec, opts PlannerOptions) *CompressionPlanner {
	p := &CompressionPlanner{
		codec:   codec,
		format:  opts.Format,
		initial: qualityPercent(opts.InitialQuality),
		floor:   qualityPercent(opts.QualityFloor),
		step:    qualityPercent(opts.QualityStep),
	}
	if p.format == "" {
		p.format = FormatJPEG
	}
	if p.floor > p.initial {
		p.floor = p.initial
	}
	return p
}

// Format returns the intermediate format the planner encodes to.
func (p *CompressionPlanner) Format() Format {
	return p.format
}

// InitialQuality returns the quality the search starts at.
func (p *CompressionPlanner) InitialQuality() float64 {
	return float64(p.initial) / 100
}

// Plan resamples img to the dimension bound, then encodes at decreasing quality
// until the output fits MaxBytes or the floor is reached. If an encode fails after
// an earlier attempt succeeded, the last good buffer is returned.
func (p *CompressionPlanner) Plan(img image.Image, c Constraints) (Plan, error) {
	img = p.codec.Resample(img, c.MaxDimension)
	bounds := img.Bounds()

	plan := Plan{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}

	quality := p.initial
	for {
		data, err := p.codec.Encode(img, p.format, float64(quality)/100)
		plan.Attempts++
		if err != nil {
			if plan.Data != nil {
				logger.Debug("Encode failed mid-search, keeping last buffer", "quality", quality, "error", err)
				return plan, nil
			}
			if !IsCodecFailure(err) {
				err = fmt.Errorf("%w: %v", ErrEncodeFailure, err)
			}
			return Plan{}, err
		}

		plan.Data = data
		plan.Quality = float64(quality) / 100

		if c.MaxBytes <= 0 || int64(len(data)) <= c.MaxBytes {
			plan.WithinBudget = true
			return plan, nil
		}
		if quality <= p.floor {
			logger.Debug("Quality floor reached above size budget", "quality", quality, "bytes", len(data), "max_bytes", c.MaxBytes)
			return plan, nil
		}

		quality -= p.step
		if quality < p.floor {
			quality = p.floor
		}
	}
}
