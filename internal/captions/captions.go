// Package captions checks for existing transcripts before any model is
// invoked. A found transcript short-circuits AI transcription entirely.
package captions

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Fetcher looks up an existing transcript for a source. A missing
// transcript is (_, false, nil), not an error.
type Fetcher interface {
	Lookup(ctx context.Context, source string) (string, bool, error)
}

var sidecarExtensions = map[string]bool{
	".srt": true, ".vtt": true, ".ass": true, ".ssa": true, ".sub": true,
}

// SidecarFetcher finds subtitle files next to a local media file, matching
// names the way players do: "talk.vtt" and "talk.en.srt" both belong to
// "talk.mp4".
type SidecarFetcher struct{}

func (SidecarFetcher) Lookup(ctx context.Context, source string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	dir := filepath.Dir(source)
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, fmt.Errorf("scan %s: %w", dir, err)
	}

	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !sidecarExtensions[ext] {
			continue
		}
		subBase := strings.TrimSuffix(name, filepath.Ext(name))
		if !strings.HasPrefix(subBase, base) {
			continue
		}
		if ext != ".vtt" && ext != ".srt" {
			log.Printf("[captions] skipping %s: no %s support", name, ext)
			continue
		}
		candidates = append(candidates, name)
	}
	if len(candidates) == 0 {
		return "", false, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := sidecarRank(candidates[i], base), sidecarRank(candidates[j], base)
		if ri != rj {
			return ri < rj
		}
		return candidates[i] < candidates[j]
	})

	name := candidates[0]
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", false, fmt.Errorf("read sidecar %s: %w", name, err)
	}

	cues := ParseCues(string(data))
	if len(cues) == 0 {
		log.Printf("[captions] %s contains no cues, ignoring", name)
		return "", false, nil
	}

	log.Printf("[captions] using sidecar %s (%d cues)", name, len(cues))
	return Transcript(cues), true, nil
}

// sidecarRank orders candidates: exact-name VTT, exact-name SRT, then
// language-suffixed variants.
func sidecarRank(name, base string) int {
	ext := strings.ToLower(filepath.Ext(name))
	exact := strings.TrimSuffix(name, filepath.Ext(name)) == base
	switch {
	case exact && ext == ".vtt":
		return 0
	case exact && ext == ".srt":
		return 1
	case ext == ".vtt":
		return 2
	default:
		return 3
	}
}

// StubFetcher is the remote lookup placeholder. Caption tracks for video
// links are never found; callers fall through to AI transcription.
type StubFetcher struct{}

func (StubFetcher) Lookup(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}
