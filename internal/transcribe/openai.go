package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/clipscribe/backend/internal/metrics"
)

const maxWhisperBytes = 25 * 1024 * 1024 // OpenAI audio endpoint limit

const whisperCallTimeout = 10 * time.Minute

// WhisperEngine transcribes through the OpenAI audio API. It takes whole
// files only; media over the endpoint limit has to use the chunked gemini
// engine instead.
type WhisperEngine struct {
	client  *openai.Client
	metrics *metrics.Metrics
}

func NewWhisperEngine(apiKey string, m *metrics.Metrics) *WhisperEngine {
	if m == nil {
		m = metrics.New(nil)
	}
	return &WhisperEngine{client: openai.NewClient(apiKey), metrics: m}
}

func (e *WhisperEngine) Name() string {
	return "openai"
}

func (e *WhisperEngine) Transcribe(ctx context.Context, media Media, sink ProgressSink) (string, error) {
	if media.Size() == 0 {
		return "", &Error{Kind: KindInvalidInput, Msg: fmt.Sprintf("media %q is empty", media.Name)}
	}
	if media.Size() > maxWhisperBytes {
		return "", &Error{
			Kind: KindInvalidInput,
			Msg:  fmt.Sprintf("%q is %s, over the %s whisper limit; use the gemini engine", media.Name, formatBytes(media.Size()), formatBytes(maxWhisperBytes)),
		}
	}

	e.metrics.RunsStarted.WithLabelValues(e.Name()).Inc()
	emit(sink, "sending %s to whisper (%s)", media.Name, formatBytes(media.Size()))

	callCtx, cancel := context.WithTimeout(ctx, whisperCallTimeout)
	defer cancel()
	resp, err := e.client.CreateTranscription(callCtx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: media.Name,
		Reader:   bytes.NewReader(media.Data),
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		e.metrics.RunsCompleted.WithLabelValues(e.Name(), "error").Inc()
		return "", classify(ctx, err, KindTransport, 0, fmt.Sprintf("whisper transcription of %q", media.Name))
	}
	if strings.TrimSpace(resp.Text) == "" {
		e.metrics.RunsCompleted.WithLabelValues(e.Name(), "error").Inc()
		return "", &Error{Kind: KindInference, Msg: fmt.Sprintf("whisper returned no text for %q", media.Name)}
	}

	emit(sink, "%s transcribed (%d characters)", media.Name, len(resp.Text))
	e.metrics.RunsCompleted.WithLabelValues(e.Name(), "ok").Inc()
	return resp.Text, nil
}
