package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// ErrNoAPIKey is returned by ListModels when no key is configured, so
// callers can degrade to an empty list instead of reporting a failure.
var ErrNoAPIKey = errors.New("Gemini API key not configured")

// Model is the frontend-friendly model info
type Model struct {
	ID          string `json:"id"`           // e.g. "gemini-2.5-flash"
	DisplayName string `json:"display_name"` // e.g. "Gemini 2.5 Flash"
	Description string `json:"description"`
}

const modelCacheTTL = 1 * time.Hour

// ListModels fetches the generateContent-capable gemini models from the
// API. Results are cached for an hour, and a stale cache is served when the
// upstream call fails.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.cachedModels) > 0 && time.Since(c.cacheTime) < modelCacheTTL {
		return copyModels(c.cachedModels), nil
	}

	models, err := c.fetchModels(ctx)
	if err != nil {
		if len(c.cachedModels) > 0 {
			return copyModels(c.cachedModels), nil
		}
		return nil, err
	}

	c.cachedModels = models
	c.cacheTime = time.Now()
	return copyModels(models), nil
}

func (c *Client) fetchModels(ctx context.Context) ([]Model, error) {
	key := c.key()
	if key == "" {
		return nil, ErrNoAPIKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1beta/models?pageSize=100", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", key)

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("Google API: status %d", status)
	}

	var apiResp struct {
		Models []struct {
			Name                       string   `json:"name"`        // "models/gemini-2.5-flash"
			DisplayName                string   `json:"displayName"` // "Gemini 2.5 Flash"
			Description                string   `json:"description"`
			SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse Google API response: %w", err)
	}

	var models []Model
	seen := make(map[string]bool)

	for _, m := range apiResp.Models {
		// Only include models that support generateContent
		supportsGenerate := false
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				supportsGenerate = true
				break
			}
		}
		if !supportsGenerate {
			continue
		}

		// Extract model ID: "models/gemini-2.5-flash" → "gemini-2.5-flash"
		id := strings.TrimPrefix(m.Name, "models/")

		// Skip embedding models, AQA, image/video generation, etc.
		if strings.Contains(id, "embedding") ||
			strings.Contains(id, "aqa") ||
			strings.Contains(id, "imagen") ||
			strings.Contains(id, "veo") ||
			strings.Contains(id, "lyria") ||
			strings.Contains(id, "learnlm") {
			continue
		}

		if !strings.HasPrefix(id, "gemini-") {
			continue
		}

		if seen[id] {
			continue
		}
		seen[id] = true

		models = append(models, Model{
			ID:          id,
			DisplayName: m.DisplayName,
			Description: m.Description,
		})
	}

	// Sort: newer models first (higher version numbers)
	sort.Slice(models, func(i, j int) bool {
		return models[i].ID > models[j].ID
	})

	return models, nil
}

func copyModels(models []Model) []Model {
	result := make([]Model, len(models))
	copy(result, models)
	return result
}
