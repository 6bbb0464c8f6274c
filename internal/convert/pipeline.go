package convert

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/acm19/picbatch/internal/logger"
	"github.com/acm19/picbatch/internal/store"
)

// batchContext is the state shared by the pipelines of one Submit call. Records are
// indexed by admission slot; every mutation goes through transition.
type batchContext struct {
	id       string
	names    *NameAllocator
	progress chan<- ProgressEvent

	mu      sync.Mutex
	records []ProcessingRecord
	settled int
}

func newBatchContext(id string, items []admittedItem, names *NameAllocator, progress chan<- ProgressEvent) *batchContext {
	bc := &batchContext{
		id:       id,
		names:    names,
		progress: progress,
		records:  make([]ProcessingRecord, len(items)),
	}
	for slot, a := range items {
		bc.records[slot] = ProcessingRecord{
			Index:       a.index,
			DisplayName: a.item.OriginalName,
			State:       StatePending,
		}
		bc.emit(StatePending, 0, a.item.OriginalName, fmt.Sprintf("Queued %s", a.item.OriginalName))
	}
	return bc
}

// transition moves the record in slot to state to, recording errMsg for StateError.
func (bc *batchContext) transition(slot int, to ItemState, errMsg string) error {
	bc.mu.Lock()
	rec := &bc.records[slot]
	if !rec.State.canTransition(to) {
		from := rec.State
		bc.mu.Unlock()
		return fmt.Errorf("%w: item %d %s -> %s", ErrInvalidTransition, rec.Index, from, to)
	}
	rec.State = to
	if to == StateError {
		rec.Error = errMsg
	}
	if to.Terminal() {
		bc.settled++
	}
	settled := bc.settled
	name := rec.DisplayName
	bc.mu.Unlock()

	var msg string
	switch to {
	case StateProcessing:
		msg = fmt.Sprintf("Processing %s", name)
	case StateCompleted:
		msg = fmt.Sprintf("Converted %d of %d", settled, len(bc.records))
	case StateError:
		msg = fmt.Sprintf("Failed %s: %s", name, errMsg)
	}
	bc.emit(to, settled, name, msg)
	return nil
}

func (bc *batchContext) emit(stage ItemState, current int, file, msg string) {
	if bc.progress == nil {
		return
	}
	select {
	case bc.progress <- ProgressEvent{
		Stage:   string(stage),
		Current: current,
		Total:   len(bc.records),
		Message: msg,
		File:    file,
	}:
	default:
		logger.Debug("Progress event dropped (channel full)", "stage", stage)
	}
}

func (bc *batchContext) snapshot() []ProcessingRecord {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	out := make([]ProcessingRecord, len(bc.records))
	copy(out, bc.records)
	return out
}

// admittedItem is a SourceItem that passed admission, with its submission index.
type admittedItem struct {
	index int
	item  SourceItem
}

// outcome is one settled pipeline.
type outcome struct {
	slot   int
	result ResultRecord
	err    error
}

// itemPipeline runs probe, normalise, plan, encode, name and store for one item.
type itemPipeline struct {
	codec        Codec
	normalizer   Normalizer
	planner      *CompressionPlanner
	store        store.Store
	constraints  Constraints
	outputFormat Format
}

// run drives slot through processing to a terminal state. It never panics.
func (p *itemPipeline) run(ctx context.Context, bc *batchContext, slot int, a admittedItem) outcome {
	if err := bc.transition(slot, StateProcessing, ""); err != nil {
		logger.Error("Bookkeeping defect", "batch", bc.id, "file", a.item.OriginalName, "error", err)
		return outcome{slot: slot, err: err}
	}

	result, err := p.safeProcess(ctx, bc.names, a.item)
	if err != nil {
		logger.Warn("Conversion failed", "batch", bc.id, "file", a.item.OriginalName, "error", err)
		if terr := bc.transition(slot, StateError, err.Error()); terr != nil {
			logger.Error("Bookkeeping defect", "batch", bc.id, "file", a.item.OriginalName, "error", terr)
		}
		return outcome{slot: slot, err: err}
	}

	result.submissionIndex = a.index
	if terr := bc.transition(slot, StateCompleted, ""); terr != nil {
		logger.Error("Bookkeeping defect", "batch", bc.id, "file", a.item.OriginalName, "error", terr)
		return outcome{slot: slot, err: terr}
	}
	logger.Debug("Conversion completed", "batch", bc.id, "file", a.item.OriginalName, "output", result.OutputName, "bytes", result.OutputSize)
	return outcome{slot: slot, result: result}
}

func (p *itemPipeline) safeProcess(ctx context.Context, names *NameAllocator, item SourceItem) (result ResultRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("conversion panicked: %v", r)
		}
	}()
	return p.process(ctx, names, item)
}

func (p *itemPipeline) process(ctx context.Context, names *NameAllocator, item SourceItem) (ResultRecord, error) {
	probe := p.codec.ProbeFormat(item.Payload)
	if !probe.Known {
		return ResultRecord{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, item.OriginalName)
	}

	data, format := item.Payload, probe.Format
	if format.NeedsNormalization() {
		var err error
		data, format, err = p.normalizer.Normalize(ctx, data, format)
		if err != nil {
			return ResultRecord{}, err
		}
	}

	img, err := p.codec.Decode(data, format)
	if err != nil {
		return ResultRecord{}, err
	}

	intermediate, quality, width, height, err := p.compress(data, format, img)
	if err != nil {
		return ResultRecord{}, err
	}

	out, outFormat := intermediate, p.planner.Format()
	if p.outputFormat != outFormat {
		raster, err := p.codec.Decode(intermediate, outFormat)
		if err != nil {
			return ResultRecord{}, err
		}
		encoded, err := p.codec.Encode(raster, p.outputFormat, quality)
		if err != nil {
			return ResultRecord{}, err
		}
		out, outFormat = p.pickOutput(encoded, intermediate, item.Size())
	}

	name := names.AllocateExt(SanitizeBaseName(item.OriginalName), outFormat.Extension())
	handle, err := p.store.Put(ctx, name, out, outFormat.MIMEType())
	if err != nil {
		return ResultRecord{}, fmt.Errorf("failed to store %s: %w", name, err)
	}

	return ResultRecord{
		OutputName:   name,
		OriginalName: item.OriginalName,
		OriginalSize: item.Size(),
		OutputSize:   int64(len(out)),
		Handle:       handle,
		Status:       StateCompleted,
		Format:       outFormat,
		Quality:      quality,
		Width:        width,
		Height:       height,
	}, nil
}

// pickOutput keeps the encoded output unless it is larger than the intermediate
// buffer and either breaks the size budget or outgrows the source. Encoders that
// ignore quality, such as lossless WebP, can do both.
func (p *itemPipeline) pickOutput(encoded, intermediate []byte, sourceSize int64) ([]byte, Format) {
	size := int64(len(encoded))
	overBudget := p.constraints.MaxBytes > 0 && size > p.constraints.MaxBytes
	if len(encoded) > len(intermediate) && (overBudget || size > sourceSize) {
		logger.Debug("Keeping intermediate output", "format", p.planner.Format(), "bytes", len(intermediate), "encoded_bytes", size)
		return intermediate, p.planner.Format()
	}
	return encoded, p.outputFormat
}

// compress returns the size-bounded intermediate buffer. A source already in the
// intermediate format and inside both bounds is used as is.
func (p *itemPipeline) compress(data []byte, format Format, img image.Image) ([]byte, float64, int, int, error) {
	bounds := img.Bounds()
	if format == p.planner.Format() && p.withinBounds(int64(len(data)), bounds.Dx(), bounds.Dy()) {
		return data, p.planner.InitialQuality(), bounds.Dx(), bounds.Dy(), nil
	}

	plan, err := p.planner.Plan(img, p.constraints)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	if !plan.WithinBudget {
		logger.Debug("Output above size budget", "bytes", len(plan.Data), "max_bytes", p.constraints.MaxBytes, "quality", plan.Quality)
	}
	return plan.Data, plan.Quality, plan.Width, plan.Height, nil
}

func (p *itemPipeline) withinBounds(size int64, width, height int) bool {
	c := p.constraints
	if c.MaxBytes > 0 && size > c.MaxBytes {
		return false
	}
	if c.MaxDimension > 0 && (width > c.MaxDimension || height > c.MaxDimension) {
		return false
	}
	return true
}
