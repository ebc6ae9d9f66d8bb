package cmd

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clipscribe/backend/internal/captions"
	"github.com/clipscribe/backend/internal/config"
	"github.com/clipscribe/backend/internal/gemini"
	"github.com/clipscribe/backend/internal/metrics"
	"github.com/clipscribe/backend/internal/transcribe"
)

// transcribeCmd is the one-shot mode: no server, no queue, transcript
// straight to stdout.
var transcribeCmd = &cobra.Command{
	Use:   "transcribe [file]",
	Short: "Transcribe a local media file",
	Example: `  # Chunked Gemini transcription
  clipscribe transcribe talk.mp4

  # Save the transcript to a file
  clipscribe transcribe talk.mp4 -o transcript.txt

  # Only use a sidecar subtitle, never call the provider
  clipscribe transcribe --captions-only talk.mp4

  # Skip the sidecar lookup even when one exists
  clipscribe transcribe --force-ai talk.mp4`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		transcript, err := runTranscribe(cmd, args[0])
		if err != nil {
			return err
		}
		return writeTranscript(cmd, transcript)
	},
}

func init() {
	transcribeCmd.Flags().StringP("engine", "e", "gemini", "Engine: gemini, gemini-inline or openai")
	transcribeCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	transcribeCmd.Flags().Bool("captions-only", false, "Fail instead of calling the provider when no sidecar subtitle exists")
	transcribeCmd.Flags().Bool("force-ai", false, "Transcribe with the provider even when a sidecar subtitle exists")
	transcribeCmd.Flags().String("content-type", "", "MIME type of the media (default: guessed from the extension)")
	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(cmd *cobra.Command, path string) (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}

	forceAI, _ := cmd.Flags().GetBool("force-ai")
	captionsOnly, _ := cmd.Flags().GetBool("captions-only")

	if !forceAI {
		text, found, err := captions.SidecarFetcher{}.Lookup(cmd.Context(), path)
		if err != nil {
			return "", err
		}
		if found {
			return text, nil
		}
		if captionsOnly {
			return "", fmt.Errorf("no sidecar subtitle found for %s", path)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	contentType, _ := cmd.Flags().GetString("content-type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	engineName, _ := cmd.Flags().GetString("engine")
	engine, err := buildEngines(cfg).Engine(engineName)
	if err != nil {
		return "", err
	}

	return engine.Transcribe(cmd.Context(), transcribe.Media{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Data:        data,
	}, transcribe.ProgressFunc(func(message string) {
		fmt.Fprintln(os.Stderr, message)
	}))
}

// buildEngines wires the provider engines from the environment alone.
// The one-shot mode has no settings database to consult.
func buildEngines(cfg *config.Config) *transcribe.Service {
	client := gemini.NewClient(gemini.Static(cfg.GeminiAPIKey), gemini.Static(cfg.GeminiModel))
	if cfg.GeminiBaseURL != "" {
		client.SetBaseURL(cfg.GeminiBaseURL)
	}

	m := metrics.New(nil)
	service := transcribe.NewService()
	pipeline := transcribe.NewPipeline(client, cfg.Transcribe(), m)
	service.Register(pipeline)
	service.Register(transcribe.NewSingleShot(pipeline))
	if cfg.OpenAIAPIKey != "" {
		service.Register(transcribe.NewWhisperEngine(cfg.OpenAIAPIKey, m))
	}
	return service
}

func writeTranscript(cmd *cobra.Command, transcript string) error {
	outputFile, _ := cmd.Flags().GetString("output")
	if outputFile != "" {
		return os.WriteFile(outputFile, []byte(transcript), 0o644)
	}
	fmt.Println(transcript)
	return nil
}
