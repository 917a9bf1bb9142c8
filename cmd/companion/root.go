package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lokutor-ai/lokutor-companion/pkg/audio"
	"github.com/lokutor-ai/lokutor-companion/pkg/config"
	"github.com/lokutor-ai/lokutor-companion/pkg/metrics"
	"github.com/lokutor-ai/lokutor-companion/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-companion/pkg/profile"
	"github.com/lokutor-ai/lokutor-companion/pkg/providers/gemini"
	"github.com/spf13/cobra"
)

type flags struct {
	configPath  string
	mode        string
	userID      string
	record      string
	flushPolicy string
	echoGuard   bool
	metricsAddr string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "companion",
		Short: "Talk to the voice companion",
		Long: `companion streams your microphone to a Gemini Live session and plays the
spoken answers back. Type a line and press enter to send text instead; type q
to end the conversation.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&f.mode, "mode", string(orchestrator.DisplayNone), "display mode (only \"none\" is available)")
	cmd.Flags().StringVar(&f.userID, "user", "", "user whose risk profile briefs the companion")
	cmd.Flags().StringVar(&f.record, "record", "", "record the companion's speech to this WAV file")
	cmd.Flags().StringVar(&f.flushPolicy, "flush-policy", "", "discard unplayed audio on every turn end (turn_end) or only on interruption (interrupt)")
	cmd.Flags().BoolVar(&f.echoGuard, "echo-guard", false, "silence quiet microphone frames while the speaker is playing")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")

	return cmd
}

// applyFlags lets explicitly set flags win over file and environment.
func applyFlags(cmd *cobra.Command, f flags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("mode") {
		cfg.Mode = f.mode
	}
	if changed("user") {
		cfg.UserID = f.userID
	}
	if changed("record") {
		cfg.Audio.RecordPath = f.record
	}
	if changed("flush-policy") {
		cfg.Session.FlushPolicy = f.flushPolicy
	}
	if changed("echo-guard") {
		cfg.Audio.EchoGuard.Enabled = f.echoGuard
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if changed("log-level") {
		cfg.LogLevel = config.LogLevel(f.logLevel)
	}
}

func run(cmd *cobra.Command, f flags) error {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		config.ApplyEnv(cfg, os.LookupEnv)
	}
	applyFlags(cmd, f, cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder, shutdownMetrics, err := setupMetrics(ctx, cfg.Metrics.Addr, logger)
	if err != nil {
		return err
	}
	defer shutdownMetrics()

	devices, err := audio.NewDevices(logger)
	if err != nil {
		return err
	}
	defer devices.Close()

	var dev orchestrator.AudioDevices = devices
	if cfg.Audio.RecordPath != "" {
		dev = &audio.RecordingDevices{AudioDevices: devices, Path: cfg.Audio.RecordPath, Logger: logger}
	}

	store := profileStore(cfg.Profiles)
	out := cmd.OutOrStdout()

	transportOpts := []gemini.Option{gemini.WithLogger(logger), gemini.WithModel(cfg.Gemini.Model)}
	if cfg.Gemini.BaseURL != "" {
		transportOpts = append(transportOpts, gemini.WithBaseURL(cfg.Gemini.BaseURL))
	}

	orchCfg := cfg.Orchestrator()
	orchCfg.PromptWriter = out

	fmt.Fprintln(out, "Fetching user risk profile...")
	err = orchestrator.RunSession(ctx, orchestrator.Dependencies{
		Transport:    gemini.New(cfg.Gemini.APIKey, transportOpts...),
		Devices:      dev,
		Context:      &announcingProvider{ContextProvider: profile.NewProvider(store, logger), out: out},
		Instructions: profile.SystemInstruction,
		Input:        cmd.InOrStdin(),
		Output:       orchestrator.NewWriterSink(out),
		Recorder:     recorder,
	}, orchestrator.DisplayMode(cfg.Mode),
		orchestrator.WithConfig(orchCfg),
		orchestrator.WithLogger(logger),
		orchestrator.WithStateObserver(func(s orchestrator.State) {
			if s == orchestrator.StateDraining {
				fmt.Fprintf(out, "\r\033[KShutting down...\n")
			}
		}),
	)

	var startErr *orchestrator.StartupError
	var taskErr *orchestrator.TaskError
	switch {
	case errors.As(err, &startErr):
		return fmt.Errorf("could not start the conversation (%s): %w", startErr.Stage, startErr.Err)
	case errors.As(err, &taskErr):
		return fmt.Errorf("conversation stopped by the %s task: %w", taskErr.Task, taskErr.Err)
	}
	return err
}

// profileStore returns the store briefing the companion. Without a profiles
// file there is none and every user is treated as new.
func profileStore(path string) profile.Store {
	if path == "" {
		return nil
	}
	return profile.NewFileStore(path)
}

// announcingProvider prints the briefing before the session starts.
type announcingProvider struct {
	orchestrator.ContextProvider
	out io.Writer
}

func (a *announcingProvider) FetchContext(ctx context.Context, userID string) string {
	text := a.ContextProvider.FetchContext(ctx, userID)
	fmt.Fprintf(a.out, "Loaded Context:\n%s\n", text)
	return text
}

func setupMetrics(ctx context.Context, addr string, logger *slog.Logger) (orchestrator.Recorder, func(), error) {
	if addr == "" {
		return orchestrator.NoOpRecorder{}, func() {}, nil
	}

	provider, err := metrics.InitProvider()
	if err != nil {
		return nil, nil, fmt.Errorf("init metrics: %w", err)
	}
	recorder, err := metrics.NewRecorder(provider)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, nil, fmt.Errorf("init metrics: %w", err)
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := provider.Serve(ctx, addr); err != nil {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()
	return recorder, func() { _ = provider.Shutdown(context.Background()) }, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
