package transcribe

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/clipscribe/backend/internal/chunk"
	"github.com/clipscribe/backend/internal/metrics"
)

const (
	// DefaultInlineMaxBytes is the largest media the single-shot engine
	// embeds directly in a generation request. It is intentionally a
	// separate knob from chunk.DefaultMaxUnitBytes: the inline cutoff
	// bounds one request body, the unit size bounds one staged upload.
	DefaultInlineMaxBytes uint64 = 20 << 20 // 20 MiB

	DefaultPollInterval    = 2 * time.Second
	DefaultPollMaxAttempts = 30
	DefaultCallTimeout     = 2 * time.Minute
	DefaultTemperature     = float32(0.2)
)

// transcriptPrompt is sent with every generation request.
const transcriptPrompt = `Generate a complete transcript of the spoken audio in this media.
Insert a timestamp in the form [MM:SS] roughly every 30 seconds, relative to the start of this segment.
Label speakers (Speaker 1, Speaker 2, ...) where they can be told apart.
Do not add commentary or summaries of your own.
If the audio is silent or unintelligible, say so explicitly.`

// Config tunes a Pipeline. Zero values fall back to the defaults above.
type Config struct {
	MaxUnitBytes    uint64        // per-part upload ceiling
	InlineMaxBytes  uint64        // single-shot engine inline-vs-upload cutoff
	PollInterval    time.Duration // delay between file status checks
	PollMaxAttempts int           // status checks per part before giving up
	CallTimeout     time.Duration // deadline applied to each provider call
	Temperature     float32
	Prompt          string // overrides the built-in transcript prompt
}

func (c Config) withDefaults() Config {
	if c.MaxUnitBytes == 0 {
		c.MaxUnitBytes = chunk.DefaultMaxUnitBytes
	}
	if c.InlineMaxBytes == 0 {
		c.InlineMaxBytes = DefaultInlineMaxBytes
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollMaxAttempts == 0 {
		c.PollMaxAttempts = DefaultPollMaxAttempts
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	return c
}

// Pipeline is the chunked transcription engine. Each part goes through
// upload, a readiness poll and one generation call, strictly in part order;
// the run fails on the first part that cannot be transcribed.
type Pipeline struct {
	client  RemoteClient
	cfg     Config
	metrics *metrics.Metrics
}

// NewPipeline creates a pipeline over client. A nil metrics instance gets a
// private registry.
func NewPipeline(client RemoteClient, cfg Config, m *metrics.Metrics) *Pipeline {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Pipeline{client: client, cfg: cfg.withDefaults(), metrics: m}
}

func (p *Pipeline) Name() string {
	return "gemini"
}

// Transcribe runs the full pipeline for one media object and returns the
// aggregated transcript. Multi-part transcripts carry "--- Part k ---"
// markers; a single part is returned exactly as inferred.
func (p *Pipeline) Transcribe(ctx context.Context, media Media, sink ProgressSink) (string, error) {
	ranges, err := chunk.Split(media.Size(), p.cfg.MaxUnitBytes)
	if err != nil {
		return "", &Error{Kind: KindInvalidInput, Msg: fmt.Sprintf("cannot plan upload for %q", media.Name), Err: err}
	}

	p.metrics.RunsStarted.WithLabelValues(p.Name()).Inc()
	emit(sink, "planned %d part(s) for %s (%s)", len(ranges), media.Name, formatBytes(media.Size()))

	parts := make([]string, len(ranges))
	for _, rng := range ranges {
		if err := ctx.Err(); err != nil {
			p.metrics.RunsCompleted.WithLabelValues(p.Name(), "error").Inc()
			return "", err
		}
		text, err := p.transcribePart(ctx, media, rng, len(ranges), sink)
		if err != nil {
			p.metrics.RunsCompleted.WithLabelValues(p.Name(), "error").Inc()
			return "", err
		}
		parts[rng.Index] = text
	}

	emit(sink, "assembling transcript from %d part(s)", len(parts))
	p.metrics.RunsCompleted.WithLabelValues(p.Name(), "ok").Inc()
	return assemble(parts), nil
}

// transcribePart pushes one byte range through upload, readiness poll and
// generation. The uploaded remote file is deleted on the way out whether
// the part succeeded or not.
func (p *Pipeline) transcribePart(ctx context.Context, media Media, rng chunk.Range, total int, sink ProgressSink) (string, error) {
	part := int(rng.Index) + 1
	data := media.Data[rng.Start:rng.End]
	started := time.Now()

	displayName := media.Name
	if total > 1 {
		displayName = fmt.Sprintf("%s (part %d/%d)", media.Name, part, total)
	}

	emit(sink, "uploading part %d/%d (%s)", part, total, formatBytes(uint64(len(data))))
	file, err := p.upload(ctx, data, displayName, media.ContentType)
	if err != nil {
		return "", classify(ctx, err, KindUploadFailed, part, fmt.Sprintf("upload part %d/%d of %q", part, total, media.Name))
	}
	defer p.deleteRemote(file)

	if file.URI == "" && file.Name == "" {
		return "", &Error{Kind: KindUploadFailed, Part: part, Msg: fmt.Sprintf("upload of part %d/%d returned no file reference", part, total)}
	}
	p.metrics.UploadedBytes.Add(float64(len(data)))

	emit(sink, "part %d/%d uploaded as %s, waiting for remote processing", part, total, remoteLabel(file))
	ready, err := p.waitActive(ctx, file, part, total)
	if err != nil {
		return "", err
	}

	emit(sink, "part %d/%d ready, requesting transcript", part, total)
	res, err := p.generate(ctx, ready)
	if err != nil {
		return "", classify(ctx, err, KindTransport, part, fmt.Sprintf("generate transcript for part %d/%d", part, total))
	}
	if strings.TrimSpace(res.Text) == "" {
		return "", &Error{Kind: KindInference, Part: part, Msg: inferenceDetail(res, part, total)}
	}

	p.metrics.PartsTranscribed.Inc()
	p.metrics.PartDuration.Observe(time.Since(started).Seconds())
	emit(sink, "part %d/%d transcribed (%d characters)", part, total, len(res.Text))
	return res.Text, nil
}

// waitActive polls the uploaded file until the provider reports it ACTIVE.
// The state from the upload response counts: a file that arrives ACTIVE is
// accepted without a status check, and unknown states are treated as still
// processing.
func (p *Pipeline) waitActive(ctx context.Context, file *RemoteFile, part, total int) (*RemoteFile, error) {
	cur := file
	attempts := 0
	for {
		switch cur.State {
		case StateActive:
			p.metrics.PollAttempts.Observe(float64(attempts))
			return cur, nil
		case StateFailed:
			return nil, &Error{Kind: KindRemoteProcessing, Part: part, Msg: fmt.Sprintf("remote processing failed for part %d/%d (%s)", part, total, remoteLabel(cur))}
		}

		if attempts >= p.cfg.PollMaxAttempts {
			return nil, &Error{Kind: KindTimeout, Part: part, Msg: fmt.Sprintf("part %d/%d still %s after %d status checks", part, total, cur.State, attempts)}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.cfg.PollInterval):
		}

		next, err := p.getFile(ctx, cur.Name)
		if err != nil {
			return nil, classify(ctx, err, KindTransport, part, fmt.Sprintf("poll status of part %d/%d", part, total))
		}
		attempts++
		cur = next
	}
}

// deleteRemote removes an uploaded file once its part is done. Deletion is
// best effort: the provider expires staged files on its own, so failures
// are logged and swallowed. A background context keeps cleanup running even
// when the surrounding run was cancelled.
func (p *Pipeline) deleteRemote(file *RemoteFile) {
	if file == nil || file.Name == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := p.client.DeleteFile(ctx, file.Name); err != nil {
		log.Printf("[transcribe] delete remote file %s: %v", file.Name, err)
	}
}

func (p *Pipeline) upload(ctx context.Context, data []byte, displayName, mimeType string) (*RemoteFile, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return p.client.UploadFile(callCtx, data, displayName, mimeType)
}

func (p *Pipeline) getFile(ctx context.Context, name string) (*RemoteFile, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return p.client.GetFile(callCtx, name)
}

func (p *Pipeline) generate(ctx context.Context, file *RemoteFile) (*GenerateResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return p.client.Generate(callCtx, file, p.prompt(), p.cfg.Temperature)
}

func (p *Pipeline) prompt() string {
	if p.cfg.Prompt != "" {
		return p.cfg.Prompt
	}
	return transcriptPrompt
}

// assemble joins per-part texts in part order. A single part is returned
// untouched; multiple parts get markers separated by blank lines.
func assemble(parts []string) string {
	if len(parts) == 1 {
		return parts[0]
	}
	var b strings.Builder
	for i, text := range parts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- Part %d ---\n\n%s", i+1, strings.TrimSpace(text))
	}
	return b.String()
}

func inferenceDetail(res *GenerateResult, part, total int) string {
	switch {
	case res.BlockReason != "":
		return fmt.Sprintf("no transcript for part %d/%d: prompt blocked (%s)", part, total, res.BlockReason)
	case res.FinishReason != "" && res.FinishReason != "STOP":
		return fmt.Sprintf("no transcript for part %d/%d: generation stopped (%s)", part, total, res.FinishReason)
	default:
		return fmt.Sprintf("no transcript for part %d/%d: empty response", part, total)
	}
}

// remoteLabel names a remote file for logs and events, preferring the
// provider handle over the full URI.
func remoteLabel(file *RemoteFile) string {
	if file.Name != "" {
		return file.Name
	}
	if file.URI != "" {
		return file.URI
	}
	return "(unnamed file)"
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
