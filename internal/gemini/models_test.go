package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modelListBody = `{
	"models": [
		{"name": "models/gemini-2.0-flash", "displayName": "Gemini 2.0 Flash", "supportedGenerationMethods": ["generateContent", "countTokens"]},
		{"name": "models/gemini-2.5-pro", "displayName": "Gemini 2.5 Pro", "supportedGenerationMethods": ["generateContent"]},
		{"name": "models/gemini-2.5-pro", "displayName": "Gemini 2.5 Pro duplicate", "supportedGenerationMethods": ["generateContent"]},
		{"name": "models/gemini-embedding-001", "displayName": "Embedding", "supportedGenerationMethods": ["embedContent"]},
		{"name": "models/aqa", "displayName": "AQA", "supportedGenerationMethods": ["generateAnswer"]},
		{"name": "models/imagen-3.0", "displayName": "Imagen", "supportedGenerationMethods": ["generateContent"]},
		{"name": "models/chat-bison-001", "displayName": "Bison", "supportedGenerationMethods": ["generateContent"]},
		{"name": "models/gemini-1.5-pro", "displayName": "Gemini 1.5 Pro", "supportedGenerationMethods": ["generateContent"]},
		{"name": "models/gemini-2.0-flash-tts", "displayName": "TTS", "supportedGenerationMethods": ["countTokens"]}
	]
}`

func TestListModels(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/v1beta/models", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		fmt.Fprint(w, modelListBody)
	}))
	defer srv.Close()

	c := NewClient(Static("test-key"), Static("test-model"))
	c.SetBaseURL(srv.URL)

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)

	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"gemini-2.5-pro", "gemini-2.0-flash", "gemini-1.5-pro"}, ids,
		"embedding, aqa, imagen, non-gemini and non-generateContent models are filtered; duplicates collapse; newest first")
	assert.Equal(t, "Gemini 2.5 Pro", models[0].DisplayName)

	// Second call is served from the fresh cache.
	again, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models, again)
	assert.Equal(t, int32(1), requests.Load())
}

func TestListModelsServesStaleCacheOnError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "upstream down", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, modelListBody)
	}))
	defer srv.Close()

	c := NewClient(Static("test-key"), Static("test-model"))
	c.SetBaseURL(srv.URL)

	cached, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, cached)

	fail.Store(true)
	c.mu.Lock()
	c.cacheTime = time.Now().Add(-2 * modelCacheTTL)
	c.mu.Unlock()

	models, err := c.ListModels(context.Background())
	require.NoError(t, err, "an expired cache still beats an upstream error")
	assert.Equal(t, cached, models)
}

func TestListModelsErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Static("test-key"), Static("test-model"))
	c.SetBaseURL(srv.URL)

	_, err := c.ListModels(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestListModelsWithoutKey(t *testing.T) {
	c := NewClient(nil, Static("test-model"))
	_, err := c.ListModels(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
