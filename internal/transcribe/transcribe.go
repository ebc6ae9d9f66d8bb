// Package transcribe turns media bytes into a single ordered transcript.
//
// Large media is split into byte ranges (see internal/chunk), each range is
// uploaded to the provider, polled until ready and transcribed, and the
// per-part texts are joined in part order. Alternative providers plug in
// behind the Engine interface.
package transcribe

import "context"

// Media is an in-memory media object handed to an engine. Data is opaque
// bytes; ContentType travels with uploads so the provider can decode it.
type Media struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the media length in bytes.
func (m Media) Size() uint64 {
	return uint64(len(m.Data))
}

// Engine converts media into transcript text, reporting milestones to sink.
type Engine interface {
	Transcribe(ctx context.Context, media Media, sink ProgressSink) (string, error)
	// Name returns the engine name
	Name() string
}
