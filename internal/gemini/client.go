// Package gemini is a hand-rolled client for the Google Gemini API: file
// uploads, file status, content generation and the model list. It
// implements transcribe.RemoteClient.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/clipscribe/backend/internal/transcribe"
)

const (
	apiBase      = "https://generativelanguage.googleapis.com"
	defaultModel = "gemini-2.0-flash"
)

// Resolver returns a runtime-configurable value, typically backed by the
// settings store so changes apply without a restart.
type Resolver func() string

// Static wraps a fixed value in a Resolver.
func Static(value string) Resolver {
	return func() string { return value }
}

// Client talks to the Gemini API. API key and model are resolved per call.
type Client struct {
	apiKey     Resolver
	model      Resolver
	baseURL    string
	httpClient *http.Client

	mu           sync.Mutex
	cachedModels []Model
	cacheTime    time.Time
}

func NewClient(apiKey, model Resolver) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: apiBase,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// SetBaseURL points the client at a different API host, mainly for tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimSuffix(u, "/")
}

func (c *Client) key() string {
	if c.apiKey != nil {
		return c.apiKey()
	}
	return ""
}

func (c *Client) currentModel() string {
	if c.model != nil {
		if m := c.model(); m != "" {
			return m
		}
	}
	return defaultModel
}

// UploadFile ships data to the Gemini file store via a multipart/related
// request and returns the normalized file reference.
func (c *Client) UploadFile(ctx context.Context, data []byte, displayName, mimeType string) (*transcribe.RemoteFile, error) {
	key := c.key()
	if key == "" {
		return nil, &transcribe.Error{Kind: transcribe.KindTransport, Msg: "Gemini API key not configured"}
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	meta, err := json.Marshal(map[string]interface{}{
		"file": map[string]string{"display_name": displayName},
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=utf-8")
	part, err := mw.CreatePart(metaHeader)
	if err != nil {
		return nil, err
	}
	part.Write(meta)

	mediaHeader := textproto.MIMEHeader{}
	mediaHeader.Set("Content-Type", mimeType)
	part, err = mw.CreatePart(mediaHeader)
	if err != nil {
		return nil, err
	}
	part.Write(data)
	mw.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/v1beta/files", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())
	req.Header.Set("X-Goog-Upload-Protocol", "multipart")
	req.Header.Set("x-goog-api-key", key)

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(status, body)
	}
	return parseFile(body)
}

// GetFile fetches the current state of an uploaded file. name is the
// provider handle, e.g. "files/abc123".
func (c *Client) GetFile(ctx context.Context, name string) (*transcribe.RemoteFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1beta/"+name, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", c.key())

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(status, body)
	}
	return parseFile(body)
}

// DeleteFile removes an uploaded file. A file the provider no longer knows
// counts as deleted.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1beta/"+name, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-goog-api-key", c.key())

	status, body, err := c.do(req)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status < 200 || status > 299 {
		return statusError(status, body)
	}
	return nil
}

// Generate asks the model for a transcript of an uploaded file.
func (c *Client) Generate(ctx context.Context, file *transcribe.RemoteFile, prompt string, temperature float32) (*transcribe.GenerateResult, error) {
	mimeType := file.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	mediaPart := map[string]interface{}{
		"file_data": map[string]string{
			"file_uri":  file.URI,
			"mime_type": mimeType,
		},
	}
	return c.generateContent(ctx, mediaPart, prompt, temperature)
}

// GenerateInline asks the model for a transcript of media embedded directly
// in the request body.
func (c *Client) GenerateInline(ctx context.Context, data []byte, mimeType, prompt string, temperature float32) (*transcribe.GenerateResult, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	mediaPart := map[string]interface{}{
		"inline_data": map[string]string{
			"mime_type": mimeType,
			"data":      base64.StdEncoding.EncodeToString(data),
		},
	}
	return c.generateContent(ctx, mediaPart, prompt, temperature)
}

func (c *Client) generateContent(ctx context.Context, mediaPart map[string]interface{}, prompt string, temperature float32) (*transcribe.GenerateResult, error) {
	key := c.key()
	if key == "" {
		return nil, &transcribe.Error{Kind: transcribe.KindTransport, Msg: "Gemini API key not configured"}
	}
	model := c.currentModel()

	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]interface{}{
					mediaPart,
					{"text": prompt},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"temperature": temperature,
		},
		"safetySettings": []map[string]string{
			{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_NONE"},
			{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_NONE"},
			{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_NONE"},
			{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_NONE"},
			{"category": "HARM_CATEGORY_CIVIC_INTEGRITY", "threshold": "BLOCK_NONE"},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		// Almost always a misconfigured model name or endpoint, not a
		// transient failure
		return nil, &transcribe.Error{
			Kind: transcribe.KindTransport,
			Msg:  fmt.Sprintf("model %q not found at %s, check the configured model and endpoint", model, c.baseURL),
		}
	}
	if status != http.StatusOK {
		return nil, statusError(status, body)
	}

	var geminiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, &transcribe.Error{Kind: transcribe.KindTransport, Msg: "parse Gemini response", Err: err}
	}

	result := &transcribe.GenerateResult{
		BlockReason: geminiResp.PromptFeedback.BlockReason,
	}
	if len(geminiResp.Candidates) == 0 {
		log.Printf("[gemini] empty response body: %s", excerpt(body))
		return result, nil
	}

	candidate := geminiResp.Candidates[0]
	result.FinishReason = candidate.FinishReason
	if fr := candidate.FinishReason; fr != "" && fr != "STOP" {
		log.Printf("[gemini] WARNING: finishReason=%s", fr)
	}

	var text strings.Builder
	for _, p := range candidate.Content.Parts {
		text.WriteString(p.Text)
	}
	result.Text = text.String()
	return result, nil
}

// do sends the request and returns status and body. Network and read
// failures come back as transport errors; status handling is the caller's.
func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &transcribe.Error{Kind: transcribe.KindTransport, Msg: "Gemini API request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &transcribe.Error{Kind: transcribe.KindTransport, Msg: "read Gemini response", Err: err}
	}
	return resp.StatusCode, body, nil
}

// remoteFileInfo is the provider file object. Upload responses wrap it in a
// "file" envelope while status responses return it bare; parseFile accepts
// both shapes so nothing past this point sees the difference.
type remoteFileInfo struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	State    string `json:"state"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseFile(body []byte) (*transcribe.RemoteFile, error) {
	var envelope struct {
		remoteFileInfo
		File *remoteFileInfo `json:"file"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &transcribe.Error{Kind: transcribe.KindTransport, Msg: "parse file response", Err: err}
	}

	info := envelope.remoteFileInfo
	if envelope.File != nil {
		info = *envelope.File
	}
	if info.State == string(transcribe.StateFailed) && info.Error != nil {
		log.Printf("[gemini] file %s failed: %s", info.Name, info.Error.Message)
	}

	return &transcribe.RemoteFile{
		Name:     info.Name,
		URI:      info.URI,
		MIMEType: info.MIMEType,
		State:    transcribe.FileState(info.State),
	}, nil
}

func statusError(status int, body []byte) error {
	return &transcribe.Error{
		Kind: transcribe.KindTransport,
		Msg:  fmt.Sprintf("Gemini API error (status %d): %s", status, excerpt(body)),
	}
}

// excerpt trims a response body down to one log-friendly line.
func excerpt(body []byte) string {
	s := strings.Join(strings.Fields(string(body)), " ")
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
