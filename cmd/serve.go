package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clipscribe/backend/internal/api"
	"github.com/clipscribe/backend/internal/auth"
	"github.com/clipscribe/backend/internal/captions"
	"github.com/clipscribe/backend/internal/config"
	"github.com/clipscribe/backend/internal/db"
	"github.com/clipscribe/backend/internal/gemini"
	"github.com/clipscribe/backend/internal/job"
	"github.com/clipscribe/backend/internal/metrics"
	"github.com/clipscribe/backend/internal/transcribe"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transcription HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	database, err := db.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer database.Close()

	if err := database.EnsureAdmin(cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	log.Printf("[serve] admin user ensured: %s", cfg.AdminUsername)

	jwtService := auth.NewJWTService(cfg.JWTSecret)

	// Settings saved through the API win over the environment, so a key
	// pasted into the settings page takes effect without a restart.
	client := gemini.NewClient(
		func() string { return database.GetSetting("gemini_api_key", cfg.GeminiAPIKey) },
		func() string { return database.GetSetting("gemini_model", cfg.GeminiModel) },
	)
	if cfg.GeminiBaseURL != "" {
		client.SetBaseURL(cfg.GeminiBaseURL)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	service := transcribe.NewService()
	pipeline := transcribe.NewPipeline(client, cfg.Transcribe(), m)
	service.Register(pipeline)
	service.Register(transcribe.NewSingleShot(pipeline))
	if cfg.OpenAIAPIKey != "" {
		service.Register(transcribe.NewWhisperEngine(cfg.OpenAIAPIKey, m))
	}

	queue := job.NewJobQueue(database.DB(), m)
	queue.RegisterHandler(job.JobTranscribe, service.HandleJob)
	queue.Resume()

	router := api.NewRouter(database, jwtService, cfg, queue, service, client, captions.StubFetcher{})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[serve] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("[serve] shutting down...")
		queue.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
