package convert

import (
	"fmt"
	"time"

	"github.com/acm19/picbatch/internal/store"
)

// SourceItem is one submitted file.
type SourceItem struct {
	// OriginalName is the file name as submitted.
	OriginalName string
	// ByteSize is the declared size. Zero means len(Payload).
	ByteSize int64
	// MIMEHint is the caller-supplied content type, if any. It is never trusted for decoding.
	MIMEHint string
	// Payload holds the file bytes.
	Payload []byte
}

// Size returns the byte size used for admission checks.
func (s SourceItem) Size() int64 {
	if s.ByteSize > 0 {
		return s.ByteSize
	}
	return int64(len(s.Payload))
}

// ItemState is the lifecycle state of one item in a batch.
type ItemState string

const (
	StatePending    ItemState = "pending"
	StateProcessing ItemState = "processing"
	StateCompleted  ItemState = "completed"
	StateError      ItemState = "error"
)

// Terminal reports whether no transition may leave s.
func (s ItemState) Terminal() bool {
	return s == StateCompleted || s == StateError
}

func (s ItemState) canTransition(to ItemState) bool {
	switch s {
	case StatePending:
		return to == StateProcessing
	case StateProcessing:
		return to == StateCompleted || to == StateError
	default:
		return false
	}
}

// ProcessingRecord is the observable state of one admitted item while its batch runs.
type ProcessingRecord struct {
	// Index is the item's position in the submitted list.
	Index       int
	DisplayName string
	State       ItemState
	// Error holds the failure message verbatim when State is StateError.
	Error string
}

// ResultRecord describes one completed output.
type ResultRecord struct {
	OutputName   string
	OriginalName string
	OriginalSize int64
	OutputSize   int64
	Handle       store.Handle
	Status       ItemState
	Format       Format
	// Quality is the quality the size search settled on.
	Quality float64
	Width   int
	Height  int

	submissionIndex int
}

// ProgressEvent represents a progress update while a batch runs.
type ProgressEvent struct {
	// Stage is the state the item just entered ("processing", "completed", "error").
	Stage string
	// Current is the number of settled items so far.
	Current int
	// Total is the number of admitted items.
	Total int
	// Message is a human-readable description of the update.
	Message string
	// File is the original name of the item.
	File string
}

// Rejection is an item dropped at admission.
type Rejection struct {
	Index  int
	Name   string
	Reason error
}

// Warning formats the rejection for display.
func (r Rejection) Warning() string {
	return fmt.Sprintf("%s: %v", r.Name, r.Reason)
}

// Report summarises one Submit call.
type Report struct {
	BatchID   string
	Admitted  int
	Completed int
	Failed    int
	Rejected  []Rejection
	// Items is the final state of every admitted item, in submission order.
	Items    []ProcessingRecord
	Duration time.Duration
}

// Warnings lists caller-visible messages for rejected items.
func (r Report) Warnings() []string {
	warnings := make([]string, 0, len(r.Rejected))
	for _, rej := range r.Rejected {
		warnings = append(warnings, rej.Warning())
	}
	return warnings
}

// Options holds the policy of a Coordinator.
type Options struct {
	// MaxItems is the number of files accepted per Submit; the rest are rejected.
	MaxItems int
	// MaxItemBytes is the per-file size limit checked before any work starts.
	MaxItemBytes int64
	// Constraints bound every output.
	Constraints Constraints
	// Planner configures the quality search.
	Planner PlannerOptions
	// OutputFormat is the format of every output.
	OutputFormat Format
	// NormalizeQuality is the JPEG quality used when transcoding HEIC/HEIF/TIFF.
	NormalizeQuality float64
	// HeifConvertPath is the heif-convert binary used for HEIC/HEIF.
	HeifConvertPath string
	// ClearDelay is how long processing records stay visible after settlement.
	ClearDelay time.Duration
	// BulkDownloadThreshold is the completed count from which a bulk archive is offered.
	BulkDownloadThreshold int
	// ArchiveFormat selects the archive container.
	ArchiveFormat ArchiveFormat
	// ProgressChan is an optional channel for receiving progress events.
	ProgressChan chan<- ProgressEvent
}

// DefaultOptions returns the default batch policy.
func DefaultOptions() Options {
	return Options{
		MaxItems:     20,
		MaxItemBytes: 10 * 1024 * 1024,
		Constraints: Constraints{
			MaxBytes:     1024 * 1024,
			MaxDimension: 1920,
		},
		Planner:               DefaultPlannerOptions(),
		OutputFormat:          FormatWebP,
		NormalizeQuality:      0.8,
		HeifConvertPath:       "heif-convert",
		ClearDelay:            time.Second,
		BulkDownloadThreshold: 2,
		ArchiveFormat:         ArchiveZip,
	}
}
