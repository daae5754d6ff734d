package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/bosley/listener/capture"
	"github.com/bosley/listener/config"
	"github.com/bosley/listener/engine"
	"github.com/bosley/listener/events"
	"github.com/bosley/listener/metrics"
	"github.com/bosley/listener/scribe"
	"github.com/bosley/listener/store"
)

// Time allowed for queued jobs to finish after a shutdown signal
const shutdownTimeout = 30 * time.Second

func NewServeCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recording and transcription service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, deps.Config)
		},
	}
}

func engineConfig(m config.ModelsConfig) engine.Config {
	return engine.Config{
		Transcriber:   m.Transcriber,
		WhisperURL:    m.WhisperURL,
		WhisperPath:   m.WhisperPath,
		WhisperModel:  m.WhisperModel,
		Language:      m.Language,
		Diarizer:      m.Diarizer,
		DiarizerURL:   m.DiarizerURL,
		DiarizerModel: m.DiarizationModel,
		NumSpeakers:   m.NumSpeakers,
		Timeout:       m.Timeout,
	}
}

func scribeConfig(cfg *config.Config) scribe.Config {
	return scribe.Config{
		CertFile:         cfg.Server.CertFile,
		KeyFile:          cfg.Server.KeyFile,
		HTTPAddr:         cfg.Server.Addr(),
		Token:            cfg.Server.Token,
		UploadDir:        cfg.Audio.UploadDir,
		InboxDir:         cfg.Scribe.InboxDir,
		Workers:          cfg.Scribe.Workers,
		QueueSize:        cfg.Scribe.QueueSize,
		DefaultDuration:  cfg.Audio.DefaultDuration(),
		MaxUploadBytes:   cfg.Audio.MaxUploadMB << 20,
		NormalizeUploads: cfg.Audio.NormalizeUploads,
		Match:            cfg.Attribution.Match,
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	st, err := store.Open(ctx, store.Config{
		Driver:        cfg.Database.Driver,
		DSN:           cfg.Database.ConnString(),
		LogLevel:      cfg.Database.LogLevel,
		SlowThreshold: cfg.Database.SlowThreshold,
		MaxOpenConns:  cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	transcriber, err := engine.NewTranscriber(engineConfig(cfg.Models))
	if err != nil {
		return err
	}
	diarizer, err := engine.NewDiarizer(engineConfig(cfg.Models))
	if err != nil {
		return err
	}

	host, err := capture.NewPortAudioHost()
	if err != nil {
		return err
	}
	defer host.Close()

	session := capture.NewSession(host, capture.Config{
		RecordingsDir:   cfg.Audio.RecordingsDir,
		LoopbackHostAPI: cfg.Audio.LoopbackHostAPI,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	publisher := events.New(events.Config{
		Enabled: cfg.Events.Enabled,
		Brokers: cfg.Events.Brokers,
		Topic:   cfg.Events.Topic,
	}, m)
	defer publisher.Close()

	svc, err := scribe.New(scribeConfig(cfg), scribe.Deps{
		Session:     session,
		Transcriber: transcriber,
		Diarizer:    diarizer,
		Store:       st,
		Events:      publisher,
		Metrics:     m,
		Gatherer:    reg,
	})
	if err != nil {
		return fmt.Errorf("initializing scribe: %w", err)
	}

	slog.Info("Starting listener",
		"addr", cfg.Server.Addr(),
		"database", cfg.Database.Driver,
		"transcriber", cfg.Models.Transcriber,
		"diarizer", cfg.Models.Diarizer,
		"events", publisher.Enabled())

	serveErr := svc.Start(ctx)
	if serveErr != nil {
		slog.Error("Scribe service failed", "error", serveErr)
	} else {
		slog.Debug("Received shutdown signal")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		slog.Error("Failed to stop Scribe service", "error", err)
	}

	slog.Info("Listener stopped")
	return serveErr
}
