package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/clipscribe/backend/internal/job"
)

// Service manages the registered transcription engines and processes jobs.
type Service struct {
	engines map[string]Engine
}

func NewService() *Service {
	return &Service{engines: make(map[string]Engine)}
}

// Register adds an engine under its own name.
func (s *Service) Register(e Engine) {
	s.engines[e.Name()] = e
	log.Printf("[transcribe] registered %s engine", e.Name())
}

// Engine looks up a registered engine by name.
func (s *Service) Engine(name string) (Engine, error) {
	e, ok := s.engines[name]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q (available: %v)", name, s.Names())
	}
	return e, nil
}

// Names lists the registered engine names, sorted.
func (s *Service) Names() []string {
	names := make([]string, 0, len(s.engines))
	for name := range s.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandleJob is the queue handler for transcription jobs. It loads the
// staged upload, dispatches to the requested engine and returns the
// transcript for the queue to hold.
func (s *Service) HandleJob(ctx context.Context, j *job.Job, emitEvent func(string)) (string, error) {
	var params job.TranscribeParams
	if err := json.Unmarshal(j.Params, &params); err != nil {
		return "", fmt.Errorf("unmarshal params: %w", err)
	}

	engine, err := s.Engine(params.Engine)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(params.MediaPath)
	if err != nil {
		return "", fmt.Errorf("read staged media: %w", err)
	}

	log.Printf("[transcribe] starting job %s: engine=%s source=%s size=%s",
		j.ID, engine.Name(), j.Source, formatBytes(uint64(len(data))))

	return engine.Transcribe(ctx, Media{
		Name:        j.Source,
		ContentType: params.ContentType,
		Data:        data,
	}, ProgressFunc(emitEvent))
}
