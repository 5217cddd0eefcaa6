package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Heliossandro/projeto-transcricao/internal/config"
	"github.com/Heliossandro/projeto-transcricao/internal/events"
	"github.com/Heliossandro/projeto-transcricao/internal/history"
	"github.com/Heliossandro/projeto-transcricao/internal/metrics"
	"github.com/Heliossandro/projeto-transcricao/internal/pipeline"
	"github.com/Heliossandro/projeto-transcricao/internal/recognition"
	"github.com/Heliossandro/projeto-transcricao/internal/server"
	"github.com/Heliossandro/projeto-transcricao/internal/stream"
	"github.com/Heliossandro/projeto-transcricao/internal/transcode"
	"github.com/Heliossandro/projeto-transcricao/internal/translation"
	"github.com/Heliossandro/projeto-transcricao/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "projeto-transcricao"
	serviceVersion    = "1.0.0"
)

var configPath string

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Speech translation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(translateCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func translateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "translate <file>",
		Short: "Translate one recording and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runTranslate,
	}
	cmd.Flags().String("source", "", "Source language (default from config)")
	cmd.Flags().String("target", "", "Target language (default from config)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, serviceVersion)
		},
	}
}

// loadConfig reads the configuration file. Without an explicit --config a
// missing default file falls back to the built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	return nil, err
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.String("transcoder", cfg.Transcoder.BinaryPath),
		slog.String("recognition_engine", cfg.Recognition.Engine),
		slog.String("translation_engine", cfg.Translation.Engine),
		slog.Bool("vad_enabled", cfg.VAD.Enabled),
		slog.String("history_driver", cfg.History.Driver),
		slog.Bool("events_enabled", cfg.Events.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	streamMgr := stream.NewManager(logger, a.recognizer, stream.ConfigFromStream(&cfg.Stream, cfg.Audio.MinPCMBytes), a.metrics)
	logger.Info("Stream manager initialized",
		slog.Duration("idle_timeout", cfg.Stream.GetIdleTimeoutDuration()),
		slog.Int("max_sessions", cfg.Stream.MaxSessions),
	)

	httpServer := server.NewHTTPServer(cfg, server.Dependencies{
		Pipeline:   a.pipeline,
		Recognizer: a.recognizer,
		Translator: a.translator,
		Streams:    streamMgr,
		History:    a.history,
		Metrics:    a.metrics,
		Gatherer:   a.registry,
		Logger:     logger,
	})
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	logger.Info("Service started successfully, waiting for signals...")

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	streamMgr.Stop()

	stats := a.recognizer.GetStats()
	logger.Info("Service stopped",
		slog.Uint64("total_recognitions", stats.TotalRecognitions),
		slog.Uint64("empty_recognitions", stats.EmptyRecognitions),
		slog.Uint64("failed_requests", stats.FailedRequests),
	)
	return nil
}

// translateOutput is printed by the translate command
type translateOutput struct {
	Original   string `json:"original"`
	Translated string `json:"translated"`
	Status     string `json:"status"`
	Kind       string `json:"kind,omitempty"`
	RequestID  string `json:"request_id"`
	DurationMs int64  `json:"duration_ms"`
}

func runTranslate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// keep stdout for the JSON result
	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	logger := initLogger(cfg.Logging)

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	source, _ := cmd.Flags().GetString("source")
	target, _ := cmd.Flags().GetString("target")

	resp := a.pipeline.Process(cmd.Context(), pipeline.Request{
		Audio:         data,
		ContainerHint: transcode.DetectContainer(data, "", filepath.Base(args[0])),
		SourceLang:    source,
		TargetLang:    target,
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(translateOutput{
		Original:   resp.Original,
		Translated: resp.Translated,
		Status:     string(resp.Outcome.Status),
		Kind:       string(resp.Outcome.Kind),
		RequestID:  resp.RequestID,
		DurationMs: resp.Duration.Milliseconds(),
	}); err != nil {
		return err
	}

	if resp.Outcome.Status == pipeline.StatusError {
		return fmt.Errorf("translation failed: %s", resp.Outcome)
	}
	return nil
}

// app holds the components shared by serve and translate
type app struct {
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	recognizer *recognition.Adapter
	translator translation.Translator
	history    history.Store
	events     events.Publisher
	pipeline   *pipeline.Pipeline
	logger     *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewMetrics(a.registry)

	transcoder := transcode.New(transcode.Options{
		BinaryPath:        cfg.Transcoder.BinaryPath,
		SampleRate:        cfg.Audio.SampleRate,
		FallbackContainer: cfg.Transcoder.FallbackContainer,
		Runner:            transcode.NewExecRunner(cfg.Transcoder.GetTimeoutDuration(), logger),
		Logger:            logger,
	})

	recognizer, err := recognition.NewAdapterFromConfig(&cfg.Recognition, &cfg.Audio, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create recognizer: %w", err)
	}
	a.recognizer = recognizer

	translator, err := translation.New(&cfg.Translation, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create translator: %w", err)
	}
	a.translator = translator

	store, err := history.Open(ctx, &cfg.History, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	a.history = store

	publisher, err := events.New(&cfg.Events, logger)
	if err != nil {
		// events are best effort
		logger.Warn("Event publishing disabled", slog.String("error", err.Error()))
		publisher = events.NopPublisher{}
	}
	a.events = publisher

	deps := pipeline.Dependencies{
		Transcoder: transcoder,
		Recognizer: recognizer,
		Translator: translator,
		History:    store,
		Events:     publisher,
		Metrics:    a.metrics,
		Logger:     logger,
	}
	if cfg.VAD.Enabled {
		detector, err := vad.NewDetector(cfg.VAD.Threshold, cfg.VAD.WindowSize, cfg.VAD.MinVoiceRatio)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create speech detector: %w", err)
		}
		deps.Detector = detector
	}

	a.pipeline = pipeline.New(deps, pipeline.OptionsFromConfig(cfg))

	logger.Info("Pipeline initialized",
		slog.String("recognizer", recognizer.EngineName()),
		slog.String("translator", translator.Name()),
		slog.Any("transcode_strategies", transcoder.Strategies()),
	)

	return a, nil
}

// Close releases the external connections of the app
func (a *app) Close() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Warn("Error closing event publisher", slog.String("error", err.Error()))
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("Error closing history store", slog.String("error", err.Error()))
		}
	}
	if a.recognizer != nil {
		if err := a.recognizer.Close(); err != nil {
			a.logger.Warn("Error closing recognizer", slog.String("error", err.Error()))
		}
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
