package convert

import "errors"

var (
	// ErrOversizedInput is returned at admission for files above the per-item byte limit.
	ErrOversizedInput = errors.New("file exceeds size limit")
	// ErrBatchLimit is returned at admission for files beyond the per-batch item limit.
	ErrBatchLimit = errors.New("too many files in batch")
	// ErrRejectedType is returned at admission when the sniffed content type is not allowed.
	ErrRejectedType = errors.New("file type not allowed")

	// ErrUnsupportedFormat is returned when probing or decoding rejects the content.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrCorruptPayload is returned when a recognised format fails to decode.
	ErrCorruptPayload = errors.New("corrupt payload")
	// ErrEncodeFailure is returned when re-encoding a raster fails.
	ErrEncodeFailure = errors.New("encode failure")
	// ErrNormalizeFailure is returned when transcoding a camera-native format fails.
	ErrNormalizeFailure = errors.New("normalization failure")

	// ErrInvalidTransition signals a bookkeeping defect in the item state machine.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrResultNotFound is returned when no completed result has the requested name.
	ErrResultNotFound = errors.New("result not found")
)

// IsCodecFailure reports whether err came from decoding, normalising or encoding.
func IsCodecFailure(err error) bool {
	return errors.Is(err, ErrCorruptPayload) ||
		errors.Is(err, ErrEncodeFailure) ||
		errors.Is(err, ErrNormalizeFailure)
}

// IsRejection reports whether err is an admission-time rejection rather than a pipeline error.
func IsRejection(err error) bool {
	return errors.Is(err, ErrOversizedInput) ||
		errors.Is(err, ErrBatchLimit) ||
		errors.Is(err, ErrRejectedType)
}
