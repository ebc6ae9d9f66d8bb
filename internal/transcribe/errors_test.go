package transcribe

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindInvalidInput:     "invalid_input",
		KindUploadFailed:     "upload_failed",
		KindRemoteProcessing: "remote_processing_failed",
		KindTimeout:          "timeout",
		KindInference:        "inference_failed",
		KindTransport:        "transport_error",
		KindUnknown:          "unknown",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Kind: KindUploadFailed, Part: 2, Msg: "upload part 2/3"}
	assert.Equal(t, "upload_failed: upload part 2/3", err.Error())

	wrapped := &Error{Kind: KindTransport, Msg: "poll status", Err: errors.New("connection refused")}
	assert.Equal(t, "transport_error: poll status: connection refused", wrapped.Error())
}

func TestKindOfUnwraps(t *testing.T) {
	inner := &Error{Kind: KindTimeout, Msg: "part 1/2 not ready"}
	outer := fmt.Errorf("job failed: %w", inner)

	assert.Equal(t, KindTimeout, KindOf(outer))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(context.Canceled))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestClassify(t *testing.T) {
	ctx := context.Background()

	// plain errors pick up the step kind
	err := classify(ctx, errors.New("boom"), KindUploadFailed, 1, "upload part 1/1")
	assert.Equal(t, KindUploadFailed, KindOf(err))
	assert.Contains(t, err.Error(), "boom")

	// kinded errors pass through untouched
	kinded := &Error{Kind: KindTransport, Msg: "reset"}
	got := classify(ctx, kinded, KindUploadFailed, 1, "upload")
	assert.Same(t, kinded, got)

	// a cancelled run surfaces the cancellation, not the step kind
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	cerr := classify(cancelled, errors.New("interrupted"), KindTransport, 1, "poll")
	require.ErrorIs(t, cerr, context.Canceled)
}
