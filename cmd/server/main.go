package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "jitstream/internal/api/http"
	"jitstream/internal/app"
	"jitstream/internal/hls"
	"jitstream/internal/media/ffprobe"
	"jitstream/internal/metrics"
	mongorepo "jitstream/internal/repository/mongo"
	"jitstream/internal/telemetry"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "jit-engine")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "jit-engine"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Bool("jitEnabled", cfg.JITEnabled),
		slog.Float64("segmentSeconds", cfg.SegmentSeconds),
		slog.String("outputDir", cfg.OutputDir),
		slog.String("sourceDir", cfg.SourceDir),
		slog.Bool("hardwareEnabled", cfg.HardwareEnabled),
		slog.Int("maxHwProcesses", cfg.MaxHwProcesses),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	var (
		mongoClient   *mongo.Client
		historyRepo   *mongorepo.PlaybackHistoryRepository
		encodingStore app.EncodingSettingsStore
		jitStore      app.JITSettingsStore
	)
	if cfg.MongoEnabled() {
		mongoClient, err = mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			logger.Error("mongo connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
			logger.Error("mongo ping failed", slog.String("error", err.Error()))
			os.Exit(1)
		}

		historyRepo = mongorepo.NewPlaybackHistoryRepository(mongoClient, cfg.MongoDatabase)
		encodingStore = mongorepo.NewEncodingSettingsRepository(mongoClient, cfg.MongoDatabase)
		jitStore = mongorepo.NewJITSettingsRepository(mongoClient, cfg.MongoDatabase)

		if err := historyRepo.EnsureIndexes(ctx); err != nil {
			logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
		}
	} else {
		logger.Info("mongo disabled, settings and playback history are in-memory only")
	}

	resolver, err := hls.NewDirectorySource(cfg.SourceDir)
	if err != nil {
		logger.Error("source dir invalid", slog.String("error", err.Error()))
		os.Exit(1)
	}

	prober := ffprobe.New(cfg.FFProbePath)
	supervisor := hls.NewSupervisor(hls.SupervisorConfig{
		Enabled:                cfg.JITEnabled,
		FFmpegPath:             cfg.FFMPEGPath,
		OutputDir:              cfg.OutputDir,
		SegmentSeconds:         cfg.SegmentSeconds,
		HardwareEnabled:        cfg.HardwareEnabled,
		HwAccelType:            cfg.HwAccelType,
		PreserveSegments:       cfg.PreserveSegments,
		PreserveFFmpegPlaylist: cfg.PreserveFFmpegPlaylist,
		WebSupportedCodecs:     cfg.WebSupportedCodecs,
		Encoding: hls.EncodingSettings{
			Preset:       cfg.EncodingPreset,
			CRF:          cfg.EncodingCRF,
			AudioBitrate: cfg.EncodingAudioBitrate,
		},
	}, prober, resolver, hls.NewGridPlanner(), logger)

	if cfg.HardwareEnabled {
		supervisor.SetHwPool(hls.NewHwSlotPool(cfg.MaxHwProcesses))
	}

	encodingMgr := app.NewEncodingSettingsManager(supervisor, encodingStore)
	if err := encodingMgr.Restore(ctx); err != nil {
		logger.Warn("encoding settings restore failed", slog.String("error", err.Error()))
	}
	jitMgr := app.NewJITSettingsManager(supervisor, jitStore)
	if err := jitMgr.Restore(ctx); err != nil {
		logger.Warn("jit settings restore failed", slog.String("error", err.Error()))
	}

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithEncodingSettings(encodingMgr),
		apihttp.WithJITSettings(jitMgr),
	}
	if historyRepo != nil {
		serverOpts = append(serverOpts, apihttp.WithPlaybackHistory(historyRepo))
		supervisor.SetHistoryStore(historyRepo)
		go flushPlaybackHistory(rootCtx, supervisor)
	}

	handler := apihttp.NewServer(supervisor, serverOpts...)
	supervisor.SetEventSink(handler.BroadcastEvent)

	sweeper := hls.NewSweeper(supervisor, hls.SweeperConfig{
		PauseCheckInterval:  cfg.ViewerCheckInterval,
		PauseThreshold:      cfg.PauseThreshold,
		InactivityThreshold: cfg.InactivityThreshold,
	}, logger)
	go sweeper.Run(rootCtx)

	go broadcastHealth(rootCtx, handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	supervisor.FlushViewerHistory(shutdownCtx)
	supervisor.StopAll()
	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

// flushPlaybackHistory persists viewer positions on a fixed cadence so the
// UI can resume playback after a restart.
func flushPlaybackHistory(ctx context.Context, sv *hls.Supervisor) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sv.FlushViewerHistory(ctx)
		}
	}
}

// broadcastHealth pushes the supervisor snapshot to WebSocket clients on a
// fixed cadence.
func broadcastHealth(ctx context.Context, handler *apihttp.Server) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			handler.BroadcastHealth()
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
