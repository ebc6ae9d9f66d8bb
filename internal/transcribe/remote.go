package transcribe

import "context"

// FileState is the remote lifecycle state of an uploaded part.
type FileState string

const (
	StateProcessing FileState = "PROCESSING"
	StateActive     FileState = "ACTIVE"
	StateFailed     FileState = "FAILED"
)

// RemoteFile identifies an uploaded blob on the provider side.
type RemoteFile struct {
	Name     string    // provider handle, e.g. "files/abc123"
	URI      string    // reference used in generation requests
	MIMEType string    // content type the provider recorded
	State    FileState // last observed lifecycle state
}

// GenerateResult is the normalized outcome of one generation call. Text may
// be empty; FinishReason and BlockReason carry whatever diagnostic the
// provider returned alongside it.
type GenerateResult struct {
	Text         string
	FinishReason string
	BlockReason  string
}

// RemoteClient is the provider boundary the pipeline drives. Implementations
// normalize response envelope variance so callers never see raw payload
// shapes.
type RemoteClient interface {
	// UploadFile ships data to the provider staging store.
	UploadFile(ctx context.Context, data []byte, displayName, mimeType string) (*RemoteFile, error)
	// GetFile fetches the current state of an uploaded file by handle.
	GetFile(ctx context.Context, name string) (*RemoteFile, error)
	// Generate asks the model for a transcript of an uploaded file.
	Generate(ctx context.Context, file *RemoteFile, prompt string, temperature float32) (*GenerateResult, error)
	// GenerateInline asks the model for a transcript of media embedded
	// directly in the request, skipping the staging store.
	GenerateInline(ctx context.Context, data []byte, mimeType, prompt string, temperature float32) (*GenerateResult, error)
	// DeleteFile removes an uploaded file from the staging store.
	DeleteFile(ctx context.Context, name string) error
}
