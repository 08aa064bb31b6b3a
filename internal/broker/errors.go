package broker

import "github.com/pkg/errors"

// Kind is the error taxonomy from spec §7. It is a closed set; the HTTP
// collaborator switches on Kind to pick a status code rather than matching
// error strings.
type Kind int8

const (
	KindUnknown Kind = iota
	KindBufferFull
	KindBufferEmpty
	KindAppendFailed
	KindBufferBuildFailed
	KindInvalidOffset
	KindTopicNotFound
	KindPartitionNotFound
	KindNoPartitionAvailable
	KindMalformedMetadata
)

func (k Kind) String() string {
	switch k {
	case KindBufferFull:
		return "BufferFull"
	case KindBufferEmpty:
		return "BufferEmpty"
	case KindAppendFailed:
		return "AppendFailed"
	case KindBufferBuildFailed:
		return "BufferBuildFailed"
	case KindInvalidOffset:
		return "InvalidOffset"
	case KindTopicNotFound:
		return "TopicNotFound"
	case KindPartitionNotFound:
		return "PartitionNotFound"
	case KindNoPartitionAvailable:
		return "NoPartitionAvailable"
	case KindMalformedMetadata:
		return "MalformedMetadata"
	default:
		return "Unknown"
	}
}

// Error carries a Kind plus, when applicable, the underlying cause (an OS
// error from a WAL append, a parse error from malformed metadata, etc).
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// newErr wraps cause (which may be nil) in a *Error of the given Kind using
// pkg/errors so the stack trace from the original cause is preserved for
// startup-fatal kinds.
func newErr(kind Kind, cause error) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Cause: cause}
}

// Is allows errors.Is(err, broker.ErrBufferFull) style checks against the
// sentinel values below.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// Sentinel values for errors.Is comparisons; Cause is always nil on these so
// callers compare only by Kind.
var (
	ErrBufferFull          = &Error{Kind: KindBufferFull}
	ErrBufferEmpty         = &Error{Kind: KindBufferEmpty}
	ErrAppendFailed        = &Error{Kind: KindAppendFailed}
	ErrBufferBuildFailed   = &Error{Kind: KindBufferBuildFailed}
	ErrInvalidOffset       = &Error{Kind: KindInvalidOffset}
	ErrTopicNotFound       = &Error{Kind: KindTopicNotFound}
	ErrPartitionNotFound   = &Error{Kind: KindPartitionNotFound}
	ErrNoPartitionAvail    = &Error{Kind: KindNoPartitionAvailable}
	ErrMalformedMetadata   = &Error{Kind: KindMalformedMetadata}
)

func kindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// KindOf exposes kindOf to other packages (e.g. the HTTP collaborator) so
// they can map an error to a status code without importing internals.
func KindOf(err error) Kind { return kindOf(err) }
