package errs

import (
	"github.com/pkg/errors"
)

// Kind classifies an Error into the taxonomy the recorder/player filters
// reason about: precondition (wrong state), IO, format (corrupt/incomplete
// container data), unsupported codec, or invariant (container engine
// guarantee broken).
type Kind int32

const (
	KindPrecondition Kind = iota + 1
	KindIO
	KindFormat
	KindUnsupportedCodec
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindIO:
		return "io"
	case KindFormat:
		return "format"
	case KindUnsupportedCodec:
		return "unsupported_codec"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Method return codes, mirroring spec.md §6: 0 on success, negative
// integers for distinct preconditions.
const (
	CodeOK                    = 0
	CodeAlreadyOpen           = -1
	CodeIO                    = -2
	CodeFormat                = -3
	CodeUnsupportedCodec      = -4
	CodeIncompatibleFmtChange = -5
	CodePinOutOfRange         = -6
	CodeNotOpen               = -7
	CodeInvariant             = -8
	CodeUnknown               = -99
)

var (
	ErrAlreadyOpen      = New(KindPrecondition, CodeAlreadyOpen, "file already open")
	ErrNotOpen          = New(KindPrecondition, CodeNotOpen, "file not open")
	ErrPinOutOfRange    = New(KindPrecondition, CodePinOutOfRange, "pin out of range")
	ErrUnsupportedCodec = New(KindUnsupportedCodec, CodeUnsupportedCodec, "unsupported codec")
)

const Success = "success"

type Error struct {
	Kind Kind
	Code int32
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func New(kind Kind, code int32, msg string) error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

func Code(e error) int32 {
	if e == nil {
		return CodeOK
	}
	err, ok := e.(*Error)
	if !ok {
		return CodeUnknown
	}
	if err == (*Error)(nil) {
		return CodeOK
	}
	return err.Code
}

func KindOf(e error) Kind {
	if e == nil {
		return 0
	}
	err, ok := e.(*Error)
	if !ok || err == nil {
		return 0
	}
	return err.Kind
}

func Msg(e error) string {
	if e == nil {
		return Success
	}
	err, ok := e.(*Error)
	if !ok {
		return "unknown error: " + e.Error()
	}
	if err == (*Error)(nil) {
		return Success
	}
	return err.Msg
}

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

func IsInvariant(e error) bool {
	return KindOf(e) == KindInvariant
}
