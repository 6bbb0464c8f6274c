package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/acm19/picbatch/internal/store"
)

// fakeCodec understands payloads of the form "<format>:<anything>". Payloads
// containing "corrupt" fail to decode and payloads containing "panic" panic.
// Encoded sizes are round(quality*100)*10 bytes.
type fakeCodec struct {
	mu          sync.Mutex
	delay       func(payload []byte) time.Duration
	failEncodeP int // quality percent at which Encode fails; 0 disables
	inflate     map[Format]int // size multiplier per encoded format
	width       int
	height      int
	qualities   []int
	resampledTo int
}

func newFakeCodec() *fakeCodec {
	return &fakeCodec{width: 100, height: 50}
}

func (c *fakeCodec) ProbeFormat(data []byte) Probe {
	prefix, _, ok := strings.Cut(string(data), ":")
	if !ok {
		return UnknownFormat()
	}
	f, err := ParseFormat(prefix)
	if err != nil {
		return UnknownFormat()
	}
	return KnownFormat(f)
}

func (c *fakeCodec) Decode(data []byte, format Format) (image.Image, error) {
	if c.delay != nil {
		time.Sleep(c.delay(data))
	}
	switch {
	case bytes.Contains(data, []byte("corrupt")):
		return nil, fmt.Errorf("%w: fake decoder refused", ErrCorruptPayload)
	case bytes.Contains(data, []byte("panic")):
		panic("fake decoder exploded")
	}
	return image.NewRGBA(image.Rect(0, 0, c.width, c.height)), nil
}

func (c *fakeCodec) Resample(img image.Image, maxDimension int) image.Image {
	c.mu.Lock()
	c.resampledTo = maxDimension
	c.mu.Unlock()
	return img
}

func (c *fakeCodec) Encode(img image.Image, format Format, quality float64) ([]byte, error) {
	p := qualityPercent(quality)
	c.mu.Lock()
	c.qualities = append(c.qualities, p)
	c.mu.Unlock()
	if c.failEncodeP != 0 && p == c.failEncodeP {
		return nil, fmt.Errorf("%w: fake encoder refused q%d", ErrEncodeFailure, p)
	}
	size := p * 10
	if m := c.inflate[format]; m > 0 {
		size *= m
	}
	prefix := string(format) + ":"
	if size < len(prefix) {
		size = len(prefix)
	}
	return append([]byte(prefix), bytes.Repeat([]byte{'x'}, size-len(prefix))...), nil
}

func (c *fakeCodec) encodedQualities() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.qualities...)
}

// countingStore wraps a memory store and tracks live handles.
type countingStore struct {
	store.Store
	mu   sync.Mutex
	live map[string]bool
}

func newCountingStore() *countingStore {
	return &countingStore{Store: store.NewMemoryStore(), live: make(map[string]bool)}
}

func (s *countingStore) Put(ctx context.Context, name string, data []byte, contentType string) (store.Handle, error) {
	h, err := s.Store.Put(ctx, name, data, contentType)
	if err == nil {
		s.mu.Lock()
		s.live[h.Key] = true
		s.mu.Unlock()
	}
	return h, err
}

func (s *countingStore) Release(ctx context.Context, h store.Handle) error {
	err := s.Store.Release(ctx, h)
	if err == nil {
		s.mu.Lock()
		delete(s.live, h.Key)
		s.mu.Unlock()
	}
	return err
}

func (s *countingStore) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// testImage returns a w x h gradient.
func testImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func encodeTestImage(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, testImage(w, h), format); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

// noisyJPEG encodes a gradient with deterministic per-pixel noise, which keeps
// encoders from collapsing it to a few bytes.
func noisyJPEG(t *testing.T, w, h, quality int) []byte {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := rng.IntN(49) - 24
			img.Set(x, y, color.NRGBA{
				R: clampByte(x*255/w + n),
				G: clampByte(y*255/h - n),
				B: clampByte(128 + n),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func clampByte(v int) uint8 {
	return uint8(max(0, min(255, v)))
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	return encodeTestImage(t, w, h, imaging.PNG)
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	return encodeTestImage(t, w, h, imaging.JPEG)
}

// fakeOptions returns options suited to the fake codec: no size budget surprises,
// no clear delay.
func fakeOptions() Options {
	opts := DefaultOptions()
	opts.Constraints.MaxBytes = 10000
	opts.ClearDelay = 0
	return opts
}

func newTestCoordinator(t *testing.T, opts Options, deps Dependencies) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(opts, deps)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}
	return c
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	return data
}

// recordingObserver collects notifications.
type recordingObserver struct {
	mu      sync.Mutex
	items   []ItemEvent
	batches []BatchEvent
}

func (o *recordingObserver) ItemSettled(e ItemEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, e)
}

func (o *recordingObserver) BatchSettled(e BatchEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, e)
}
