package frame

import (
	"errors"
	"fmt"
)

// Kind classifies a ProtocolError.
type Kind int

const (
	MissingField Kind = iota + 1
	FieldParse
	SampleCountMismatch
	ChecksumMismatch
)

var (
	ErrMissingField        = errors.New("missing field")
	ErrFieldParse          = errors.New("field parse error")
	ErrSampleCountMismatch = errors.New("sample count mismatch")
	ErrChecksumMismatch    = errors.New("checksum mismatch")
)

func (k Kind) String() string {
	switch k {
	case MissingField:
		return "missing_field"
	case FieldParse:
		return "field_parse"
	case SampleCountMismatch:
		return "sample_count_mismatch"
	case ChecksumMismatch:
		return "checksum_mismatch"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case MissingField:
		return ErrMissingField
	case FieldParse:
		return ErrFieldParse
	case SampleCountMismatch:
		return ErrSampleCountMismatch
	case ChecksumMismatch:
		return ErrChecksumMismatch
	}
	return nil
}

// ProtocolError is returned by Parse for any line that can't produce a Frame.
// It matches the Err* sentinels with errors.Is.
type ProtocolError struct {
	Kind  Kind
	Field string

	// Want and Got are set for SampleCountMismatch and ChecksumMismatch
	Want, Got uint64

	// Err is the underlying strconv error for FieldParse
	Err error
}

func (e *ProtocolError) Error() string {
	switch e.Kind {
	case MissingField:
		return fmt.Sprintf("missing field %s", e.Field)
	case FieldParse:
		return fmt.Sprintf("can't parse field %s: %v", e.Field, e.Err)
	case SampleCountMismatch:
		return fmt.Sprintf("sample count mismatch: declared %d got %d", e.Want, e.Got)
	case ChecksumMismatch:
		return fmt.Sprintf("checksum mismatch: declared %d computed %d", e.Want, e.Got)
	default:
		return "protocol error"
	}
}

func (e *ProtocolError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
