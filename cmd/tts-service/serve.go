package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/paperread-tts/internal/audiocache"
	"github.com/book-expert/paperread-tts/internal/library"
	"github.com/book-expert/paperread-tts/internal/objectstore"
	"github.com/book-expert/paperread-tts/internal/ratelimit"
	"github.com/book-expert/paperread-tts/internal/server"
	"github.com/book-expert/paperread-tts/internal/system"
	"github.com/book-expert/paperread-tts/internal/tts"
	"github.com/book-expert/paperread-tts/internal/voices"
	"github.com/book-expert/paperread-tts/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	natsClientName    = "paperread-tts"
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
)

func newServeCmd(state *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when NATS is configured, the job worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg

	cache, err := a.openCache(audiocache.NewIndexRegistry())
	if err != nil {
		return err
	}

	engine := tts.NewPiperEngine(tts.PiperConfig{
		BinaryPath: cfg.TTS.PiperBin,
		VoiceDir:   cfg.Voices.VoiceDir,
		Aliases:    cfg.Voices.Aliases,
		Timeout:    cfg.SynthesisTimeout(),
	}, a.log)

	synth := tts.NewSynthesizer(cache, engine, tts.SynthesizerConfig{
		MediaURLPrefix: cfg.Server.MediaURLPrefix,
		MaxChars:       cfg.TTS.MaxChars,
	}, a.log)

	store, err := library.NewStore(library.Config{
		MetadataFile:   cfg.Paths.LibraryMetadataFile,
		BooksDir:       cfg.Paths.BooksDir,
		MaxUploadBytes: cfg.Limits.MaxUploadBytes,
	}, cache, a.log)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Synthesizer: synth,
		Online: tts.NewOnlineClient(tts.OnlineConfig{
			Enabled: cfg.Online.Enabled,
			BaseURL: cfg.Online.BaseURL,
			APIKey:  cfg.Online.APIKey,
		}),
		Cache:   cache,
		Library: store,
		Voices: voices.NewCatalog(voices.Config{
			VoiceDir:        cfg.Voices.VoiceDir,
			ManifestPath:    cfg.Voices.ManifestPath,
			ManifestJSON:    cfg.Voices.ManifestJSON,
			DownloadBaseURL: cfg.Voices.DownloadBaseURL,
			DownloadTimeout: cfg.DownloadTimeout(),
		}, a.log),
		Limiter:         ratelimit.New(cfg.Limits.RequestLimit, cfg.RequestWindow()),
		Engine:          engine,
		PiperConfigured: cfg.TTS.PiperBin != "",
		System:          system.Config{MediaDir: cfg.Paths.MediaDir, VoiceDir: cfg.Voices.VoiceDir},
		MaxUploadBytes:  cfg.Limits.MaxUploadBytes,
		Log:             a.log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.log.System("TTS service listening on %s (media %s)", cfg.Server.ListenAddr, cfg.Paths.MediaDir)

		listenErr := httpServer.ListenAndServe()
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", listenErr)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()

		a.log.Info("Shutting down HTTP server")

		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.NATS.URL != "" {
		natsConnection, connectErr := a.startWorker(groupCtx, group, synth, cache)
		if connectErr != nil {
			stop()
			_ = group.Wait()

			return connectErr
		}

		defer natsConnection.Close()
	}

	return group.Wait()
}

// startWorker connects to NATS and runs the job worker inside group.
func (a *app) startWorker(
	ctx context.Context,
	group *errgroup.Group,
	synth *tts.Synthesizer,
	cache *audiocache.Cache,
) (*nats.Conn, error) {
	cfg := a.cfg

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(natsClientName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	js, err := jetstream.New(natsConnection)
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(ctx, js, cfg.NATS.ObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	jobWorker := worker.NewNatsWorker(natsConnection, worker.Subjects{
		TextProcessed: cfg.NATS.TextProcessedSubject,
		BookDeleted:   cfg.NATS.BookDeletedSubject,
	}, store, synth, cache, a.log)

	group.Go(func() error {
		return jobWorker.Run(ctx)
	})

	return natsConnection, nil
}
