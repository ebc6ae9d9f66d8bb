package transcribe

import (
	"context"
	"errors"
)

// Kind classifies a transcription failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindUploadFailed
	KindRemoteProcessing
	KindTimeout
	KindInference
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUploadFailed:
		return "upload_failed"
	case KindRemoteProcessing:
		return "remote_processing_failed"
	case KindTimeout:
		return "timeout"
	case KindInference:
		return "inference_failed"
	case KindTransport:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Error is a classified transcription failure. Part is the 1-based part
// number the failure belongs to, or zero when it is not part-specific.
type Error struct {
	Kind Kind
	Part int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.String() + ": " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind err carries, unwrapping as needed. Errors without
// a kind, including bare context cancellation, report KindUnknown.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// classify wraps err under kind unless it already carries one or the run
// itself was cancelled, in which case the original error passes through so
// callers can still match it.
func classify(ctx context.Context, err error, kind Kind, part int, msg string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Kind: kind, Part: part, Msg: msg, Err: err}
}
