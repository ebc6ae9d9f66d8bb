package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipscribe/backend/internal/auth"
	"github.com/clipscribe/backend/internal/captions"
	"github.com/clipscribe/backend/internal/config"
	"github.com/clipscribe/backend/internal/db"
	"github.com/clipscribe/backend/internal/gemini"
	"github.com/clipscribe/backend/internal/job"
	"github.com/clipscribe/backend/internal/transcribe"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// fakeEngine stands in for the real providers so requests never leave the
// test process. "fail" makes every run error, "slow" blocks until cancelled.
type fakeEngine struct {
	name string
	fail bool
	slow bool
}

func (e fakeEngine) Name() string { return e.name }

func (e fakeEngine) Transcribe(ctx context.Context, media transcribe.Media, sink transcribe.ProgressSink) (string, error) {
	if e.slow {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if e.fail {
		return "", errors.New("upstream unavailable")
	}
	sink.Event("engine started")
	return "fake transcript of " + media.Name, nil
}

type testEnv struct {
	server   *httptest.Server
	database *db.Database
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.EnsureAdmin("admin", "secret"))

	jwtService := auth.NewJWTService("test-secret")

	queue := job.NewJobQueue(database.DB(), nil)
	t.Cleanup(queue.Stop)

	service := transcribe.NewService()
	service.Register(fakeEngine{name: "gemini"})
	service.Register(fakeEngine{name: "broken", fail: true})
	service.Register(fakeEngine{name: "slow", slow: true})
	queue.RegisterHandler(job.JobTranscribe, service.HandleJob)
	queue.Resume()

	cfg := &config.Config{
		DataPath:       t.TempDir(),
		CORSOrigins:    []string{"*"},
		MaxUploadBytes: 1 << 20,
	}

	client := gemini.NewClient(gemini.Static(""), gemini.Static("gemini-2.5-flash"))

	router := NewRouter(database, jwtService, cfg, queue, service, client, captions.StubFetcher{})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{server: server, database: database}
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func (e *testEnv) request(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// upload posts a multipart transcription request with the given media bytes.
func (e *testEnv) upload(t *testing.T, token, filename, engine string, payload []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", filename)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	if engine != "" {
		require.NoError(t, mw.WriteField("engine", engine))
	}
	require.NoError(t, mw.Close())
	return e.request(t, http.MethodPost, "/api/transcriptions", token, &buf, mw.FormDataContentType())
}

func decodeJob(t *testing.T, resp *http.Response) *job.Job {
	t.Helper()
	defer resp.Body.Close()
	var j job.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&j))
	return &j
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out["error"]
}

// getJob fetches a job over the API, reporting false on any failure so it
// can run inside an Eventually condition.
func (e *testEnv) getJob(token, id string) (*job.Job, bool) {
	req, err := http.NewRequest(http.MethodGet, e.server.URL+"/api/jobs/"+id, nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	var j job.Job
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		return nil, false
	}
	return &j, true
}

func (e *testEnv) waitForStatus(t *testing.T, token, id string, want job.JobStatus) *job.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		j, ok := e.getJob(token, id)
		return ok && j.Status == want
	}, waitFor, tick, "job %s never reached %s", id, want)
	j, ok := e.getJob(token, id)
	require.True(t, ok)
	return j
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	token := env.login(t, "admin", "secret")
	assert.NotEmpty(t, token)

	body, err := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	require.NoError(t, err)
	resp, err := http.Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid credentials", decodeError(t, resp))
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", "secret")

	resp := env.request(t, http.MethodGet, "/api/auth/me", token, nil, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var me map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "admin", me["username"])
	assert.Equal(t, "admin", me["role"])
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTranscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", "secret")

	resp := env.upload(t, token, "talk.mp4", "", []byte("media payload"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	queued := decodeJob(t, resp)
	assert.NotEmpty(t, queued.ID)
	assert.Equal(t, job.JobTranscribe, queued.Type)
	assert.Equal(t, "talk.mp4", queued.Source)

	done := env.waitForStatus(t, token, queued.ID, job.StatusCompleted)
	assert.InDelta(t, 1.0, done.Progress, 0.001)

	var result job.TranscribeResult
	require.NoError(t, json.Unmarshal(done.Result, &result))
	assert.Equal(t, "gemini", result.Engine)
	assert.Equal(t, len("fake transcript of talk.mp4"), result.Characters)

	tr := env.request(t, http.MethodGet, "/api/jobs/"+queued.ID+"/transcript", token, nil, "")
	defer tr.Body.Close()
	require.Equal(t, http.StatusOK, tr.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", tr.Header.Get("Content-Type"))
	text, err := io.ReadAll(tr.Body)
	require.NoError(t, err)
	assert.Equal(t, "fake transcript of talk.mp4", string(text))

	ev := env.request(t, http.MethodGet, "/api/jobs/"+queued.ID+"/events", token, nil, "")
	defer ev.Body.Close()
	require.Equal(t, http.StatusOK, ev.StatusCode)
	var events []job.Event
	require.NoError(t, json.NewDecoder(ev.Body).Decode(&events))
	require.Len(t, events, 1)
	assert.Equal(t, "engine started", events[0].Message)

	list := env.request(t, http.MethodGet, "/api/jobs", token, nil, "")
	defer list.Body.Close()
	require.Equal(t, http.StatusOK, list.StatusCode)
	var jobs []*job.Job
	require.NoError(t, json.NewDecoder(list.Body).Decode(&jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, queued.ID, jobs[0].ID)
}

func TestTranscriptionUnknownEngine(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", "secret")

	resp := env.upload(t, token, "talk.mp4", "whisper-cpp", []byte("media payload"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp), `unknown engine "whisper-cpp"`)
}

func TestTranscriptionEmptyFile(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", "secret")

	resp := env.upload(t, token, "empty.mp4", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "media file is empty", decodeError(t, resp))
}

func TestTranscriptionTooLarge(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", "secret")

	resp := env.upload(t, token, "huge.mp4", "", bytes.Repeat([]byte("x"), 2<<20))
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp), "exceeds")
}

func TestTranscriptionFromLink(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", "secret")

	body, err := json.Marshal(map[string]string{"url": "https://example.com/talk"})
	require.NoError(t, err)
	resp := env.request(t, http.MethodPost, "/api/transcriptions", token, bytes.NewReader(body), "application/json")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp), "no caption track available")

	resp = env.request(t, http.MethodPost, "/api/transcriptions", token, bytes.NewReader([]byte(`{}`)), "application/json")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp), "either a multipart media file or a url")
}

func TestFailedJobRetryAndTranscriptConflict(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", "secret")

	resp := env.upload(t, token, "talk.mp4", "broken", []byte("media payload"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	queued := decodeJob(t, resp)

	failed := env.waitForStatus(t, token, queued.ID, job.StatusFailed)
	assert.Contains(t, failed.Error, "upstream unavailable")

	tr := env.request(t, http.MethodGet, "/api/jobs/"+queued.ID+"/transcript", token, nil, "")
	require.Equal(t, http.StatusConflict, tr.StatusCode)
	assert.Contains(t, decodeError(t, tr), "job is failed")

	retry := env.request(t, http.MethodPost, "/api/jobs/"+queued.ID+"/retry", token, nil, "")
	require.Equal(t, http.StatusOK, retry.StatusCode)
	retried := decodeJob(t, retry)
	assert.Equal(t, queued.ID, retried.ID)

	// The broken engine fails again, the job just gets a fresh attempt.
	env.waitForStatus(t, token, queued.ID, job.StatusFailed)
}

func TestRetryCompletedJobConflict(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", "secret")

	resp := env.upload(t, token, "talk.mp4", "", []byte("media payload"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	queued := decodeJob(t, resp)
	env.waitForStatus(t, token, queued.ID, job.StatusCompleted)

	retry := env.request(t, http.MethodPost, "/api/jobs/"+queued.ID+"/retry", token, nil, "")
	require.Equal(t, http.StatusConflict, retry.StatusCode)
	assert.Contains(t, decodeError(t, retry), "only failed or cancelled")
}

func TestCancelRunningJob(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", "secret")

	resp := env.upload(t, token, "talk.mp4", "slow", []byte("media payload"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	queued := decodeJob(t, resp)
	env.waitForStatus(t, token, queued.ID, job.StatusRunning)

	cancel := env.request(t, http.MethodPost, "/api/jobs/"+queued.ID+"/cancel", token, nil, "")
	cancel.Body.Close()
	require.Equal(t, http.StatusNoContent, cancel.StatusCode)

	env.waitForStatus(t, token, queued.ID, job.StatusCancelled)
}

func TestDeleteJob(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", "secret")

	resp := env.upload(t, token, "talk.mp4", "", []byte("media payload"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	queued := decodeJob(t, resp)
	env.waitForStatus(t, token, queued.ID, job.StatusCompleted)

	del := env.request(t, http.MethodDelete, "/api/jobs/"+queued.ID, token, nil, "")
	del.Body.Close()
	require.Equal(t, http.StatusNoContent, del.StatusCode)

	missing := env.request(t, http.MethodGet, "/api/jobs/"+queued.ID, token, nil, "")
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestDeleteRefusesRunningJob(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", "secret")

	resp := env.upload(t, token, "talk.mp4", "slow", []byte("media payload"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	queued := decodeJob(t, resp)
	env.waitForStatus(t, token, queued.ID, job.StatusRunning)

	del := env.request(t, http.MethodDelete, "/api/jobs/"+queued.ID, token, nil, "")
	require.Equal(t, http.StatusConflict, del.StatusCode)
	assert.Contains(t, decodeError(t, del), "cancel it before deleting")

	cancel := env.request(t, http.MethodPost, "/api/jobs/"+queued.ID+"/cancel", token, nil, "")
	cancel.Body.Close()
	require.Equal(t, http.StatusNoContent, cancel.StatusCode)
	env.waitForStatus(t, token, queued.ID, job.StatusCancelled)
}

func TestJobNotFound(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", "secret")

	resp := env.request(t, http.MethodGet, "/api/jobs/nope", token, nil, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "job not found", decodeError(t, resp))
}

func TestSettingsMaskingAndClear(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", "secret")

	put := func(body map[string]string) *http.Response {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		return env.request(t, http.MethodPut, "/api/settings", token, bytes.NewReader(b), "application/json")
	}
	get := func() map[string]map[string]interface{} {
		resp := env.request(t, http.MethodGet, "/api/settings", token, nil, "")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var list []map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
		byKey := make(map[string]map[string]interface{})
		for _, s := range list {
			byKey[s["key"].(string)] = s
		}
		return byKey
	}

	resp := put(map[string]string{"gemini_api_key": "AIzaSyTest1234", "default_engine": "gemini"})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	settings := get()
	assert.Equal(t, "••••••••1234", settings["gemini_api_key"]["value"])
	assert.Equal(t, true, settings["gemini_api_key"]["has_value"])
	assert.Equal(t, "gemini", settings["default_engine"]["value"])

	// Echoing the masked value back must not overwrite the stored secret.
	resp = put(map[string]string{"gemini_api_key": "••••••••1234"})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "AIzaSyTest1234", env.database.GetSetting("gemini_api_key", ""))

	// An unknown key is ignored rather than stored.
	resp = put(map[string]string{"totally_new_key": "x"})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "", env.database.GetSetting("totally_new_key", ""))

	// Empty string clears the secret.
	resp = put(map[string]string{"gemini_api_key": ""})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	settings = get()
	assert.Equal(t, false, settings["gemini_api_key"]["has_value"])
}

func TestSettingsUpdateRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	hash, err := auth.HashPassword("viewerpass")
	require.NoError(t, err)
	_, err = env.database.DB().Exec(
		"INSERT INTO users (username, password, role) VALUES (?, ?, 'viewer')",
		"viewer", hash,
	)
	require.NoError(t, err)

	token := env.login(t, "viewer", "viewerpass")

	resp := env.request(t, http.MethodGet, "/api/settings", token, nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := bytes.NewReader([]byte(`{"default_engine":"openai"}`))
	resp = env.request(t, http.MethodPut, "/api/settings", token, body, "application/json")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestModelsWithoutKey(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", "secret")

	resp := env.request(t, http.MethodGet, "/api/models", token, nil, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var models []gemini.Model
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&models))
	assert.Empty(t, models)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
}

func TestMetricsExposed(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestEnv(t)

	// RealIP rewrites RemoteAddr from this header, giving every request
	// the same bucket regardless of the client port.
	attempt := func() int {
		body := bytes.NewReader([]byte(`{"username":"admin","password":"wrong"}`))
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/auth/login", body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Real-IP", "10.9.8.7")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusUnauthorized, attempt())
	}
	assert.Equal(t, http.StatusTooManyRequests, attempt())
}
