package convert

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestCoordinator_EndToEnd(t *testing.T) {
	opts := DefaultOptions()
	opts.ClearDelay = 0
	c := newTestCoordinator(t, opts, Dependencies{})
	ctx := context.Background()

	report := c.Submit(ctx, []SourceItem{
		{OriginalName: "first.png", Payload: pngBytes(t, 64, 48)},
		{OriginalName: "broken.png", Payload: pngBytes(t, 16, 16)[:40]},
		{OriginalName: "third.jpg", Payload: jpegBytes(t, 80, 60)},
	})

	if report.Admitted != 3 || report.Completed != 2 || report.Failed != 1 {
		t.Fatalf("Expected 3 admitted, 2 completed, 1 failed, got: %d, %d, %d", report.Admitted, report.Completed, report.Failed)
	}
	if report.BatchID == "" {
		t.Error("Expected a batch id")
	}

	broken := report.Items[1]
	if broken.State != StateError {
		t.Errorf("Expected broken.png in error state, got: %s", broken.State)
	}
	if broken.Error == "" {
		t.Error("Expected a non-empty error message")
	}
	if broken.DisplayName != "broken.png" || broken.Index != 1 {
		t.Errorf("Unexpected record: %+v", broken)
	}

	results := c.Results()
	var names []string
	for _, r := range results {
		names = append(names, r.OutputName)
	}
	if !reflect.DeepEqual(names, []string{"first.webp", "third.webp"}) {
		t.Fatalf("Expected [first.webp third.webp], got: %v", names)
	}

	codec := NewImageCodec()
	for _, r := range results {
		if r.Status != StateCompleted || r.Format != FormatWebP {
			t.Errorf("Unexpected result: %+v", r)
		}
		rc, _, err := c.Open(ctx, r.OutputName)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		data := readAll(t, rc)
		if int64(len(data)) != r.OutputSize {
			t.Errorf("Expected %d bytes, got: %d", r.OutputSize, len(data))
		}
		if probe := codec.ProbeFormat(data); probe != KnownFormat(FormatWebP) {
			t.Errorf("Expected webp output for %s, got: %s", r.OutputName, probe)
		}
	}
	if results[0].Width != 64 || results[0].Height != 48 {
		t.Errorf("Expected 64x48, got: %dx%d", results[0].Width, results[0].Height)
	}

	archive, err := c.BuildArchive(ctx)
	if err != nil {
		t.Fatalf("BuildArchive failed: %v", err)
	}
	if entries := zipEntries(t, archive); len(entries) != 2 {
		t.Errorf("Expected 2 archive entries, got: %d", len(entries))
	}
	if c.ArchiveName() != "converted_images.zip" {
		t.Errorf("Expected converted_images.zip, got: %s", c.ArchiveName())
	}
}

func TestCoordinator_CollidingNamesAreDistinct(t *testing.T) {
	opts := DefaultOptions()
	opts.ClearDelay = 0
	c := newTestCoordinator(t, opts, Dependencies{})

	report := c.Submit(context.Background(), []SourceItem{
		{OriginalName: "Photo.jpg", Payload: jpegBytes(t, 20, 20)},
		{OriginalName: "Photo.png", Payload: pngBytes(t, 20, 20)},
	})
	if report.Completed != 2 {
		t.Fatalf("Expected 2 completed, got: %d (%+v)", report.Completed, report.Items)
	}

	results := c.Results()
	if results[0].OriginalName != "Photo.jpg" || results[1].OriginalName != "Photo.png" {
		t.Errorf("Expected submission order, got: %s, %s", results[0].OriginalName, results[1].OriginalName)
	}
	got := map[string]bool{results[0].OutputName: true, results[1].OutputName: true}
	if !got["Photo.webp"] || !got["Photo_1.webp"] {
		t.Errorf("Expected Photo.webp and Photo_1.webp, got: %v", got)
	}
}

func TestCoordinator_OrderSurvivesRandomCompletion(t *testing.T) {
	codec := newFakeCodec()
	codec.delay = func([]byte) time.Duration {
		return time.Duration(rand.IntN(15)) * time.Millisecond
	}
	c := newTestCoordinator(t, fakeOptions(), Dependencies{Codec: codec})

	var items []SourceItem
	var expected []string
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("item-%02d.png", i)
		payload := "png:" + name
		if i == 3 || i == 11 {
			payload = "png:corrupt"
		} else {
			expected = append(expected, name)
		}
		items = append(items, SourceItem{OriginalName: name, Payload: []byte(payload)})
	}

	report := c.Submit(context.Background(), items)
	if report.Completed != 18 || report.Failed != 2 {
		t.Fatalf("Expected 18 completed and 2 failed, got: %d and %d", report.Completed, report.Failed)
	}

	var got []string
	for _, r := range c.Results() {
		got = append(got, r.OriginalName)
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected submission order %v, got: %v", expected, got)
	}
	for i, rec := range report.Items {
		if rec.Index != i {
			t.Errorf("Expected record %d to carry index %d, got: %d", i, i, rec.Index)
		}
	}
}

func TestCoordinator_OnlyOversizedItems(t *testing.T) {
	progress := make(chan ProgressEvent, 16)
	opts := fakeOptions()
	opts.ProgressChan = progress
	c := newTestCoordinator(t, opts, Dependencies{Codec: newFakeCodec()})

	report := c.Submit(context.Background(), []SourceItem{
		{OriginalName: "huge.png", ByteSize: 11 * 1024 * 1024, Payload: []byte("png:huge")},
		{OriginalName: "bigger.png", ByteSize: 20 * 1024 * 1024, Payload: []byte("png:bigger")},
	})

	if report.Admitted != 0 {
		t.Errorf("Expected no admitted items, got: %d", report.Admitted)
	}
	warnings := report.Warnings()
	if len(warnings) != 2 {
		t.Fatalf("Expected 2 warnings, got: %v", warnings)
	}
	if !strings.Contains(warnings[0], "huge.png") {
		t.Errorf("Expected warning to name the file, got: %s", warnings[0])
	}
	for _, rej := range report.Rejected {
		if !errors.Is(rej.Reason, ErrOversizedInput) || !IsRejection(rej.Reason) {
			t.Errorf("Expected ErrOversizedInput, got: %v", rej.Reason)
		}
	}
	if len(progress) != 0 {
		t.Errorf("Expected no progress events, got: %d", len(progress))
	}
	if c.Processing() != nil {
		t.Error("Expected no processing records")
	}
	if len(c.Results()) != 0 {
		t.Error("Expected no results")
	}
}

func TestCoordinator_OversizedItemDoesNotBlockOthers(t *testing.T) {
	c := newTestCoordinator(t, fakeOptions(), Dependencies{Codec: newFakeCodec()})

	report := c.Submit(context.Background(), []SourceItem{
		{OriginalName: "a.png", Payload: []byte("png:a")},
		{OriginalName: "huge.png", ByteSize: 11 * 1024 * 1024, Payload: []byte("png:huge")},
		{OriginalName: "c.png", Payload: []byte("png:c")},
	})

	if report.Completed != 2 || len(report.Rejected) != 1 {
		t.Fatalf("Expected 2 completed and 1 rejected, got: %d and %d", report.Completed, len(report.Rejected))
	}
	if report.Rejected[0].Index != 1 {
		t.Errorf("Expected rejected index 1, got: %d", report.Rejected[0].Index)
	}
	if report.Items[1].Index != 2 || report.Items[1].DisplayName != "c.png" {
		t.Errorf("Expected second record to be c.png at index 2, got: %+v", report.Items[1])
	}
}

func TestCoordinator_BatchLimit(t *testing.T) {
	c := newTestCoordinator(t, fakeOptions(), Dependencies{Codec: newFakeCodec()})

	var items []SourceItem
	for i := 0; i < 22; i++ {
		items = append(items, SourceItem{OriginalName: fmt.Sprintf("f%d.png", i), Payload: []byte("png:x")})
	}
	report := c.Submit(context.Background(), items)

	if report.Admitted != 20 {
		t.Errorf("Expected 20 admitted, got: %d", report.Admitted)
	}
	if len(report.Rejected) != 2 {
		t.Fatalf("Expected 2 rejected, got: %d", len(report.Rejected))
	}
	for i, rej := range report.Rejected {
		if rej.Index != 20+i || !errors.Is(rej.Reason, ErrBatchLimit) {
			t.Errorf("Unexpected rejection: %+v", rej)
		}
	}
}

func TestCoordinator_ValidatorRejectsBeforePipeline(t *testing.T) {
	codec := NewImageCodec()
	opts := DefaultOptions()
	opts.ClearDelay = 0
	c := newTestCoordinator(t, opts, Dependencies{Codec: codec, Validator: NewContentValidator(codec)})

	report := c.Submit(context.Background(), []SourceItem{
		{OriginalName: "notes.txt", Payload: []byte("just some text")},
		{OriginalName: "ok.png", Payload: pngBytes(t, 8, 8)},
	})

	if report.Admitted != 1 || report.Completed != 1 {
		t.Fatalf("Expected 1 admitted and completed, got: %d and %d", report.Admitted, report.Completed)
	}
	if len(report.Rejected) != 1 || !errors.Is(report.Rejected[0].Reason, ErrRejectedType) {
		t.Fatalf("Expected ErrRejectedType rejection, got: %+v", report.Rejected)
	}
	if report.Failed != 0 {
		t.Errorf("Expected rejection not to count as a pipeline failure, got: %d", report.Failed)
	}
}

type errValidator struct{}

func (errValidator) Validate(context.Context, string, []byte) (Verdict, error) {
	return Verdict{}, errors.New("sniffer unavailable")
}

func TestCoordinator_ValidatorErrorAdmitsItem(t *testing.T) {
	c := newTestCoordinator(t, fakeOptions(), Dependencies{Codec: newFakeCodec(), Validator: errValidator{}})

	report := c.Submit(context.Background(), []SourceItem{{OriginalName: "a.png", Payload: []byte("png:a")}})
	if report.Completed != 1 {
		t.Errorf("Expected item to be admitted and completed, got: %+v", report)
	}
}

func TestCoordinator_ItemFailuresAreContained(t *testing.T) {
	c := newTestCoordinator(t, fakeOptions(), Dependencies{Codec: newFakeCodec()})

	report := c.Submit(context.Background(), []SourceItem{
		{OriginalName: "boom.png", Payload: []byte("png:panic")},
		{OriginalName: "notes.txt", Payload: []byte("plain text")},
		{OriginalName: "fine.png", Payload: []byte("png:fine")},
	})

	if report.Completed != 1 || report.Failed != 2 {
		t.Fatalf("Expected 1 completed and 2 failed, got: %d and %d", report.Completed, report.Failed)
	}
	if !strings.Contains(report.Items[0].Error, "panicked") {
		t.Errorf("Expected panic message, got: %q", report.Items[0].Error)
	}
	if !strings.Contains(report.Items[1].Error, ErrUnsupportedFormat.Error()) {
		t.Errorf("Expected unsupported format message, got: %q", report.Items[1].Error)
	}
	if report.Items[2].State != StateCompleted {
		t.Errorf("Expected fine.png to complete, got: %s", report.Items[2].State)
	}
}

func TestCoordinator_SourceWithinBudgetSkipsSearch(t *testing.T) {
	codec := newFakeCodec()
	c := newTestCoordinator(t, fakeOptions(), Dependencies{Codec: codec})

	report := c.Submit(context.Background(), []SourceItem{{OriginalName: "small.jpg", Payload: []byte("jpeg:small")}})
	if report.Completed != 1 {
		t.Fatalf("Expected 1 completed, got: %+v", report.Items)
	}
	// Only the final WebP encode runs.
	if got := codec.encodedQualities(); !reflect.DeepEqual(got, []int{70}) {
		t.Errorf("Expected a single encode at 70, got: %v", got)
	}
	// The 700-byte WebP would outgrow the 10-byte source.
	results := c.Results()
	if len(results) != 1 || results[0].OutputName != "small.jpg" || results[0].Format != FormatJPEG {
		t.Errorf("Expected the source kept as small.jpg, got: %+v", results)
	}
}

func TestCoordinator_OversizedOutputKeepsIntermediate(t *testing.T) {
	codec := newFakeCodec()
	codec.inflate = map[Format]int{FormatWebP: 20}
	c := newTestCoordinator(t, fakeOptions(), Dependencies{Codec: codec})

	c.Submit(context.Background(), []SourceItem{{OriginalName: "pic.png", Payload: []byte("png:pic"), ByteSize: 50000}})

	results := c.Results()
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got: %+v", results)
	}
	r := results[0]
	if r.OutputName != "pic.jpg" || r.Format != FormatJPEG {
		t.Errorf("Expected pic.jpg in jpeg, got: %s in %s", r.OutputName, r.Format)
	}
	if r.OutputSize != 700 {
		t.Errorf("Expected the 700-byte intermediate, got: %d", r.OutputSize)
	}
	rc, _, err := c.Open(context.Background(), "pic.jpg")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if data := readAll(t, rc); !strings.HasPrefix(string(data), "jpeg:") {
		t.Errorf("Expected jpeg bytes, got prefix %q", data[:5])
	}
}

func TestCoordinator_LargerOutputWithinBoundsIsKept(t *testing.T) {
	codec := newFakeCodec()
	codec.inflate = map[Format]int{FormatWebP: 2}
	c := newTestCoordinator(t, fakeOptions(), Dependencies{Codec: codec})

	c.Submit(context.Background(), []SourceItem{{OriginalName: "pic.png", Payload: []byte("png:pic"), ByteSize: 5000}})

	results := c.Results()
	if len(results) != 1 || results[0].OutputName != "pic.webp" || results[0].OutputSize != 1400 {
		t.Errorf("Expected pic.webp of 1400 bytes, got: %+v", results)
	}
}

func TestCoordinator_RealCodecRespectsSizeBounds(t *testing.T) {
	opts := DefaultOptions()
	opts.ClearDelay = 0
	opts.MaxItemBytes = 64 << 20
	opts.Constraints.MaxBytes = 512 * 1024
	c := newTestCoordinator(t, opts, Dependencies{})

	large := noisyJPEG(t, 2400, 1600, 100)
	small := noisyJPEG(t, 200, 150, 95)
	if int64(len(large)) <= opts.Constraints.MaxBytes {
		t.Fatalf("Expected the large input above budget, got: %d bytes", len(large))
	}

	report := c.Submit(context.Background(), []SourceItem{
		{OriginalName: "large.jpg", Payload: large},
		{OriginalName: "small.jpg", Payload: small},
	})
	if report.Completed != 2 {
		t.Fatalf("Expected 2 completed, got: %+v", report.Items)
	}

	results := c.Results()
	for _, r := range results {
		if r.OutputSize > opts.Constraints.MaxBytes {
			t.Errorf("%s: expected at most %d bytes, got: %d", r.OriginalName, opts.Constraints.MaxBytes, r.OutputSize)
		}
		if r.Width > 1920 || r.Height > 1920 {
			t.Errorf("%s: expected dimensions within 1920, got: %dx%d", r.OriginalName, r.Width, r.Height)
		}
	}
	if r := results[1]; r.OutputSize > r.OriginalSize {
		t.Errorf("Expected small input not to grow, got: %d -> %d bytes", r.OriginalSize, r.OutputSize)
	}
}

func TestCoordinator_CancelledContextStillSettles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestCoordinator(t, fakeOptions(), Dependencies{Codec: newFakeCodec()})

	report := c.Submit(ctx, []SourceItem{
		{OriginalName: "a.png", Payload: []byte("png:a")},
		{OriginalName: "b.png", Payload: []byte("png:b")},
	})

	if report.Completed != 2 || report.Failed != 0 {
		t.Errorf("Expected 2 completed despite cancellation, got: %+v", report.Items)
	}
}

func TestCoordinator_OutputInIntermediateFormat(t *testing.T) {
	codec := newFakeCodec()
	opts := fakeOptions()
	opts.OutputFormat = FormatJPEG
	c := newTestCoordinator(t, opts, Dependencies{Codec: codec})

	c.Submit(context.Background(), []SourceItem{{OriginalName: "pic.png", Payload: []byte("png:pic")}})

	results := c.Results()
	if len(results) != 1 || results[0].OutputName != "pic.jpg" || results[0].Format != FormatJPEG {
		t.Fatalf("Unexpected results: %+v", results)
	}
	if got := codec.encodedQualities(); !reflect.DeepEqual(got, []int{70}) {
		t.Errorf("Expected planner encode only, got: %v", got)
	}
}

func TestCoordinator_ProgressEvents(t *testing.T) {
	progress := make(chan ProgressEvent, 64)
	opts := fakeOptions()
	opts.ProgressChan = progress
	c := newTestCoordinator(t, opts, Dependencies{Codec: newFakeCodec()})

	c.Submit(context.Background(), []SourceItem{
		{OriginalName: "a.png", Payload: []byte("png:a")},
		{OriginalName: "b.png", Payload: []byte("png:corrupt")},
	})
	close(progress)

	stages := make(map[string]int)
	maxCurrent := 0
	for ev := range progress {
		stages[ev.Stage]++
		if ev.Total != 2 {
			t.Errorf("Expected total 2, got: %d", ev.Total)
		}
		if ev.Current > maxCurrent {
			maxCurrent = ev.Current
		}
	}
	expected := map[string]int{"pending": 2, "processing": 2, "completed": 1, "error": 1}
	if !reflect.DeepEqual(stages, expected) {
		t.Errorf("Expected stages %v, got: %v", expected, stages)
	}
	if maxCurrent != 2 {
		t.Errorf("Expected final current 2, got: %d", maxCurrent)
	}
}

func TestCoordinator_ProcessingClearsAfterDelay(t *testing.T) {
	opts := fakeOptions()
	opts.ClearDelay = 50 * time.Millisecond
	c := newTestCoordinator(t, opts, Dependencies{Codec: newFakeCodec()})

	c.Submit(context.Background(), []SourceItem{
		{OriginalName: "a.png", Payload: []byte("png:a")},
		{OriginalName: "b.png", Payload: []byte("png:corrupt")},
	})

	records := c.Processing()
	if len(records) != 2 {
		t.Fatalf("Expected 2 records right after settlement, got: %d", len(records))
	}
	for _, rec := range records {
		if !rec.State.Terminal() {
			t.Errorf("Expected terminal state, got: %s", rec.State)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Processing() != nil {
		if time.Now().After(deadline) {
			t.Fatal("Processing records were not cleared")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(c.Results()) != 1 {
		t.Errorf("Expected results to survive the clear, got: %d", len(c.Results()))
	}
}

func TestCoordinator_RemoveReleasesHandle(t *testing.T) {
	st := newCountingStore()
	c := newTestCoordinator(t, fakeOptions(), Dependencies{Codec: newFakeCodec(), Store: st})
	ctx := context.Background()

	c.Submit(ctx, []SourceItem{
		{OriginalName: "first.png", Payload: []byte("png:1")},
		{OriginalName: "second.png", Payload: []byte("png:2")},
	})
	if st.Live() != 2 {
		t.Fatalf("Expected 2 live handles, got: %d", st.Live())
	}

	if err := c.Remove(ctx, "first.webp"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if st.Live() != 1 {
		t.Errorf("Expected 1 live handle, got: %d", st.Live())
	}
	if _, _, err := c.Open(ctx, "first.webp"); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("Expected ErrResultNotFound, got: %v", err)
	}
	if err := c.Remove(ctx, "first.webp"); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("Expected ErrResultNotFound on second remove, got: %v", err)
	}

	// The removed name stays reserved.
	c.Submit(ctx, []SourceItem{{OriginalName: "first.png", Payload: []byte("png:1")}})
	results := c.Results()
	if len(results) != 2 || results[1].OutputName != "first_1.webp" {
		t.Errorf("Expected first_1.webp appended, got: %+v", results)
	}
}

func TestCoordinator_Discard(t *testing.T) {
	st := newCountingStore()
	opts := fakeOptions()
	opts.ClearDelay = time.Hour
	c := newTestCoordinator(t, opts, Dependencies{Codec: newFakeCodec(), Store: st})
	ctx := context.Background()

	c.Submit(ctx, []SourceItem{
		{OriginalName: "first.png", Payload: []byte("png:1")},
		{OriginalName: "second.png", Payload: []byte("png:2")},
	})

	if err := c.Discard(ctx); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if st.Live() != 0 {
		t.Errorf("Expected all handles released, got: %d", st.Live())
	}
	if len(c.Results()) != 0 || c.Processing() != nil {
		t.Error("Expected empty state after discard")
	}

	c.Submit(ctx, []SourceItem{{OriginalName: "first.png", Payload: []byte("png:1")}})
	if got := c.Results()[0].OutputName; got != "first.webp" {
		t.Errorf("Expected name registry reset, got: %s", got)
	}
}

func TestCoordinator_BatchesAccumulate(t *testing.T) {
	c := newTestCoordinator(t, fakeOptions(), Dependencies{Codec: newFakeCodec()})
	ctx := context.Background()

	if c.BulkDownloadAvailable() {
		t.Error("Expected no bulk download with zero results")
	}
	c.Submit(ctx, []SourceItem{{OriginalName: "a.png", Payload: []byte("png:a")}})
	if c.BulkDownloadAvailable() {
		t.Error("Expected no bulk download with one result")
	}
	c.Submit(ctx, []SourceItem{{OriginalName: "b.png", Payload: []byte("png:b")}})
	if !c.BulkDownloadAvailable() {
		t.Error("Expected bulk download with two results")
	}

	results := c.Results()
	if results[0].OutputName != "a.webp" || results[1].OutputName != "b.webp" {
		t.Errorf("Expected a.webp then b.webp, got: %s, %s", results[0].OutputName, results[1].OutputName)
	}
}

func TestCoordinator_ObserverNotified(t *testing.T) {
	obs := &recordingObserver{}
	c := newTestCoordinator(t, fakeOptions(), Dependencies{Codec: newFakeCodec(), Observer: obs})

	c.Submit(context.Background(), []SourceItem{
		{OriginalName: "a.png", Payload: []byte("png:a")},
		{OriginalName: "b.png", Payload: []byte("png:corrupt")},
		{OriginalName: "huge.png", ByteSize: 1 << 30, Payload: []byte("png:huge")},
	})

	if len(obs.items) != 2 {
		t.Fatalf("Expected 2 item events, got: %d", len(obs.items))
	}
	if len(obs.batches) != 1 {
		t.Fatalf("Expected 1 batch event, got: %d", len(obs.batches))
	}
	b := obs.batches[0]
	if b.Admitted != 2 || b.Completed != 1 || b.Failed != 1 || b.Rejected != 1 {
		t.Errorf("Unexpected batch event: %+v", b)
	}
	for _, e := range obs.items {
		if e.OriginalName == "b.png" && (e.State != StateError || e.Err == nil) {
			t.Errorf("Expected error event for b.png, got: %+v", e)
		}
		if e.OriginalName == "a.png" && e.OutputName != "a.webp" {
			t.Errorf("Expected a.webp, got: %s", e.OutputName)
		}
	}
}

func TestNewCoordinator_InvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"zero max items", func(o *Options) { o.MaxItems = 0 }},
		{"zero max bytes", func(o *Options) { o.MaxItemBytes = 0 }},
		{"heic output", func(o *Options) { o.OutputFormat = FormatHEIC }},
		{"unknown output", func(o *Options) { o.OutputFormat = "psd" }},
		{"unknown archive", func(o *Options) { o.ArchiveFormat = "rar" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			if _, err := NewCoordinator(opts, Dependencies{}); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestItemState_Transitions(t *testing.T) {
	tests := []struct {
		from, to ItemState
		allowed  bool
	}{
		{StatePending, StateProcessing, true},
		{StatePending, StateCompleted, false},
		{StatePending, StateError, false},
		{StateProcessing, StateCompleted, true},
		{StateProcessing, StateError, true},
		{StateCompleted, StateError, false},
		{StateError, StateProcessing, false},
	}
	for _, tt := range tests {
		if got := tt.from.canTransition(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s: expected %v, got: %v", tt.from, tt.to, tt.allowed, got)
		}
	}
}

func TestBatchContext_RejectsInvalidTransition(t *testing.T) {
	bc := newBatchContext("b", []admittedItem{{index: 0, item: SourceItem{OriginalName: "a.png"}}}, NewNameAllocator(".webp"), nil)

	err := bc.transition(0, StateCompleted, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got: %v", err)
	}
	if bc.snapshot()[0].State != StatePending {
		t.Errorf("Expected state unchanged, got: %s", bc.snapshot()[0].State)
	}
}
