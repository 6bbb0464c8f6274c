package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acm19/picbatch/internal/logger"
	"github.com/acm19/picbatch/internal/store"
)

// Dependencies are the collaborators of a Coordinator. Nil fields get defaults,
// except Validator, which is optional.
type Dependencies struct {
	Codec      Codec
	Normalizer Normalizer
	Store      store.Store
	Validator  Validator
	Observer   Observer
}

// Coordinator admits batches, fans their items out to concurrent pipelines and
// keeps the accumulated result set until it is discarded.
type Coordinator struct {
	opts      Options
	pipeline  *itemPipeline
	store     store.Store
	validator Validator
	observer  Observer
	archive   *ArchiveBuilder

	// submitMu serialises Submit and Discard.
	submitMu sync.Mutex

	mu         sync.RWMutex
	results    []ResultRecord
	names      *NameAllocator
	current    *batchContext
	clearTimer *time.Timer
}

// NewCoordinator creates a Coordinator with opts and deps.
func NewCoordinator(opts Options, deps Dependencies) (*Coordinator, error) {
	if opts.MaxItems <= 0 {
		return nil, fmt.Errorf("max items must be positive, got %d", opts.MaxItems)
	}
	if opts.MaxItemBytes <= 0 {
		return nil, fmt.Errorf("max item bytes must be positive, got %d", opts.MaxItemBytes)
	}
	if opts.OutputFormat == "" {
		opts.OutputFormat = FormatWebP
	}
	if opts.OutputFormat.Extension() == "" || opts.OutputFormat.NeedsNormalization() {
		return nil, fmt.Errorf("%w: output format %q", ErrUnsupportedFormat, opts.OutputFormat)
	}
	if opts.ArchiveFormat == "" {
		opts.ArchiveFormat = ArchiveZip
	}
	if _, err := ParseArchiveFormat(string(opts.ArchiveFormat)); err != nil {
		return nil, err
	}

	codec := deps.Codec
	if codec == nil {
		codec = NewImageCodec()
	}
	normalizer := deps.Normalizer
	if normalizer == nil {
		normalizer = NewNormalizer(codec, opts.HeifConvertPath, opts.NormalizeQuality)
	}
	st := deps.Store
	if st == nil {
		st = store.NewMemoryStore()
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Coordinator{
		opts: opts,
		pipeline: &itemPipeline{
			codec:        codec,
			normalizer:   normalizer,
			planner:      NewCompressionPlanner(codec, opts.Planner),
			store:        st,
			constraints:  opts.Constraints,
			outputFormat: opts.OutputFormat,
		},
		store:     st,
		validator: deps.Validator,
		observer:  observer,
		archive:   NewArchiveBuilder(st, opts.ArchiveFormat),
		names:     NewNameAllocator(opts.OutputFormat.Extension()),
	}, nil
}

// Submit runs one batch to full settlement and merges its completed outputs into
// the accumulated result set in submission order. Items beyond MaxItems, above
// MaxItemBytes or refused by the Validator are rejected before any work starts.
// Cancelling ctx does not abort the batch; its values are still passed on.
func (c *Coordinator) Submit(ctx context.Context, items []SourceItem) Report {
	ctx = context.WithoutCancel(ctx)
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	start := time.Now()
	report := Report{BatchID: uuid.NewString()}

	admitted, rejected := c.admit(ctx, items)
	report.Admitted = len(admitted)
	report.Rejected = rejected
	for _, rej := range rejected {
		logger.Warn("File rejected", "batch", report.BatchID, "file", rej.Name, "reason", rej.Reason)
	}

	if len(admitted) == 0 {
		logger.Info("Nothing to convert", "batch", report.BatchID, "rejected", len(rejected))
		c.observer.BatchSettled(BatchEvent{BatchID: report.BatchID, Rejected: len(rejected)})
		report.Duration = time.Since(start)
		return report
	}

	c.mu.Lock()
	names := c.names
	c.mu.Unlock()

	bc := newBatchContext(report.BatchID, admitted, names, c.opts.ProgressChan)
	c.mu.Lock()
	c.stopClearTimerLocked()
	c.current = bc
	c.mu.Unlock()

	logger.Info("Batch started", "batch", bc.id, "items", len(admitted))

	settled := make(chan outcome, len(admitted))
	var wg sync.WaitGroup
	for slot, a := range admitted {
		wg.Add(1)
		go func(slot int, a admittedItem) {
			defer wg.Done()
			o := c.pipeline.run(ctx, bc, slot, a)
			event := ItemEvent{
				BatchID:      bc.id,
				Index:        a.index,
				OriginalName: a.item.OriginalName,
				State:        StateCompleted,
				OutputName:   o.result.OutputName,
				Err:          o.err,
			}
			if o.err != nil {
				event.State = StateError
			}
			c.observer.ItemSettled(event)
			settled <- o
		}(slot, a)
	}
	wg.Wait()
	close(settled)

	var completed []ResultRecord
	for o := range settled {
		if o.err != nil {
			report.Failed++
			continue
		}
		completed = append(completed, o.result)
	}
	slices.SortFunc(completed, func(a, b ResultRecord) int {
		return a.submissionIndex - b.submissionIndex
	})
	report.Completed = len(completed)
	report.Items = bc.snapshot()

	c.mu.Lock()
	c.results = append(c.results, completed...)
	c.scheduleClearLocked(bc)
	c.mu.Unlock()

	report.Duration = time.Since(start)
	logger.Info("Batch settled", "batch", bc.id, "completed", report.Completed, "failed", report.Failed, "rejected", len(rejected), "duration", report.Duration)
	c.observer.BatchSettled(BatchEvent{
		BatchID:   bc.id,
		Admitted:  report.Admitted,
		Completed: report.Completed,
		Failed:    report.Failed,
		Rejected:  len(rejected),
	})
	return report
}

func (c *Coordinator) admit(ctx context.Context, items []SourceItem) ([]admittedItem, []Rejection) {
	var admitted []admittedItem
	var rejected []Rejection
	for i, item := range items {
		reason := c.admissionError(ctx, i, item)
		if reason != nil {
			rejected = append(rejected, Rejection{Index: i, Name: item.OriginalName, Reason: reason})
			continue
		}
		admitted = append(admitted, admittedItem{index: i, item: item})
	}
	return admitted, rejected
}

func (c *Coordinator) admissionError(ctx context.Context, index int, item SourceItem) error {
	if index >= c.opts.MaxItems {
		return fmt.Errorf("%w (limit %d)", ErrBatchLimit, c.opts.MaxItems)
	}
	if item.Size() > c.opts.MaxItemBytes {
		return fmt.Errorf("%w (%d bytes, limit %d)", ErrOversizedInput, item.Size(), c.opts.MaxItemBytes)
	}
	if c.validator == nil {
		return nil
	}
	verdict, err := c.validator.Validate(ctx, item.OriginalName, item.Payload)
	if err != nil {
		logger.Warn("Validation failed, admitting file", "file", item.OriginalName, "error", err)
		return nil
	}
	if !verdict.Allowed {
		return fmt.Errorf("%w: %s", ErrRejectedType, verdict.Reason)
	}
	return nil
}

func (c *Coordinator) scheduleClearLocked(bc *batchContext) {
	c.stopClearTimerLocked()
	if c.opts.ClearDelay <= 0 {
		c.current = nil
		return
	}
	c.clearTimer = time.AfterFunc(c.opts.ClearDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.current == bc {
			c.current = nil
		}
	})
}

func (c *Coordinator) stopClearTimerLocked() {
	if c.clearTimer != nil {
		c.clearTimer.Stop()
		c.clearTimer = nil
	}
}

// Processing returns the records of the running or just-settled batch, or nil once they are cleared.
func (c *Coordinator) Processing() []ProcessingRecord {
	c.mu.RLock()
	bc := c.current
	c.mu.RUnlock()
	if bc == nil {
		return nil
	}
	return bc.snapshot()
}

// Results returns a copy of the accumulated result set.
func (c *Coordinator) Results() []ResultRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ResultRecord, len(c.results))
	copy(out, c.results)
	return out
}

// Result returns the completed result named name.
func (c *Coordinator) Result(name string) (ResultRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.results {
		if r.OutputName == name {
			return r, nil
		}
	}
	return ResultRecord{}, fmt.Errorf("%w: %s", ErrResultNotFound, name)
}

// Open returns a reader over the output bytes of the result named name.
func (c *Coordinator) Open(ctx context.Context, name string) (io.ReadCloser, ResultRecord, error) {
	r, err := c.Result(name)
	if err != nil {
		return nil, ResultRecord{}, err
	}
	rc, err := c.store.Open(ctx, r.Handle)
	if err != nil {
		return nil, ResultRecord{}, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return rc, r, nil
}

// Remove drops the result named name and releases its handle. The name stays reserved.
func (c *Coordinator) Remove(ctx context.Context, name string) error {
	c.mu.Lock()
	i := slices.IndexFunc(c.results, func(r ResultRecord) bool { return r.OutputName == name })
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrResultNotFound, name)
	}
	removed := c.results[i]
	c.results = slices.Delete(c.results, i, i+1)
	c.mu.Unlock()

	if err := c.store.Release(ctx, removed.Handle); err != nil {
		return fmt.Errorf("failed to release %s: %w", name, err)
	}
	logger.Info("Result removed", "output", name)
	return nil
}

// Discard releases every result handle, clears processing records and resets the
// name registry. It waits for a running Submit to settle.
func (c *Coordinator) Discard(ctx context.Context) error {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.mu.Lock()
	results := c.results
	c.results = nil
	c.names = NewNameAllocator(c.opts.OutputFormat.Extension())
	c.stopClearTimerLocked()
	c.current = nil
	c.mu.Unlock()

	var errs []error
	for _, r := range results {
		if err := c.store.Release(ctx, r.Handle); err != nil {
			errs = append(errs, fmt.Errorf("failed to release %s: %w", r.OutputName, err))
		}
	}
	logger.Info("Results discarded", "count", len(results))
	return errors.Join(errs...)
}

// WriteArchive streams the archive of all completed results to w.
func (c *Coordinator) WriteArchive(ctx context.Context, w io.Writer) error {
	return c.archive.Write(ctx, w, c.Results())
}

// BuildArchive returns the archive of all completed results.
func (c *Coordinator) BuildArchive(ctx context.Context) ([]byte, error) {
	return c.archive.Build(ctx, c.Results())
}

// ArchiveName returns the download name of the archive.
func (c *Coordinator) ArchiveName() string {
	return c.archive.Format().FileName()
}

// ArchiveContentType returns the media type of the archive.
func (c *Coordinator) ArchiveContentType() string {
	return c.archive.Format().ContentType()
}

// Limits returns the admission limits: items per batch and bytes per item.
func (c *Coordinator) Limits() (maxItems int, maxItemBytes int64) {
	return c.opts.MaxItems, c.opts.MaxItemBytes
}

// BulkDownloadAvailable reports whether enough results exist to offer the archive.
func (c *Coordinator) BulkDownloadAvailable() bool {
	threshold := c.opts.BulkDownloadThreshold
	if threshold <= 0 {
		threshold = 1
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results) >= threshold
}
