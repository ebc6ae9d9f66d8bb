package transcribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/clipscribe/backend/internal/chunk"
)

// SingleShot is the legacy one-request engine. Media at or under the inline
// cutoff is embedded directly in the generation request; anything larger
// goes through one upload round as a whole, never chunked.
type SingleShot struct {
	p *Pipeline
}

// NewSingleShot wraps an existing pipeline, sharing its client and tuning.
func NewSingleShot(p *Pipeline) *SingleShot {
	return &SingleShot{p: p}
}

func (s *SingleShot) Name() string {
	return "gemini-inline"
}

func (s *SingleShot) Transcribe(ctx context.Context, media Media, sink ProgressSink) (string, error) {
	if media.Size() == 0 {
		return "", &Error{Kind: KindInvalidInput, Msg: fmt.Sprintf("media %q is empty", media.Name)}
	}
	s.p.metrics.RunsStarted.WithLabelValues(s.Name()).Inc()

	text, err := s.transcribe(ctx, media, sink)
	if err != nil {
		s.p.metrics.RunsCompleted.WithLabelValues(s.Name(), "error").Inc()
		return "", err
	}
	s.p.metrics.RunsCompleted.WithLabelValues(s.Name(), "ok").Inc()
	return text, nil
}

func (s *SingleShot) transcribe(ctx context.Context, media Media, sink ProgressSink) (string, error) {
	if media.Size() > s.p.cfg.InlineMaxBytes {
		emit(sink, "%s exceeds the inline limit (%s), uploading whole", media.Name, formatBytes(s.p.cfg.InlineMaxBytes))
		whole := chunk.Range{Index: 0, Start: 0, End: media.Size()}
		return s.p.transcribePart(ctx, media, whole, 1, sink)
	}

	emit(sink, "sending %s inline (%s)", media.Name, formatBytes(media.Size()))
	callCtx, cancel := context.WithTimeout(ctx, s.p.cfg.CallTimeout)
	res, err := s.p.client.GenerateInline(callCtx, media.Data, media.ContentType, s.p.prompt(), s.p.cfg.Temperature)
	cancel()
	if err != nil {
		return "", classify(ctx, err, KindTransport, 1, fmt.Sprintf("inline transcript for %q", media.Name))
	}
	if strings.TrimSpace(res.Text) == "" {
		return "", &Error{Kind: KindInference, Part: 1, Msg: inferenceDetail(res, 1, 1)}
	}

	emit(sink, "%s transcribed (%d characters)", media.Name, len(res.Text))
	return res.Text, nil
}
