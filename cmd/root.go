package cmd

import (
	"context"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/capturewatch/internal/config"
	"github.com/smazurov/capturewatch/internal/events"
	"github.com/smazurov/capturewatch/internal/led"
	"github.com/smazurov/capturewatch/internal/logging"
	"github.com/smazurov/capturewatch/internal/metrics"
	"github.com/smazurov/capturewatch/internal/metrics/collectors"
	"github.com/smazurov/capturewatch/internal/metrics/exporters"
	"github.com/smazurov/capturewatch/internal/probe"
	"github.com/smazurov/capturewatch/internal/process"
	"github.com/smazurov/capturewatch/internal/stream"
	"github.com/smazurov/capturewatch/internal/systemd"
	"github.com/smazurov/capturewatch/internal/version"
	"github.com/smazurov/capturewatch/internal/watch"
)

// mppInterval is how often encoder load is sampled for metrics.
const mppInterval = 5 * time.Second

// validStreamArgs rejects a bad codec, bitrate or GOP before anything starts.
func validStreamArgs(_ *cobra.Command, args []string) error {
	_, err := stream.ParseArgs(args)
	return err
}

// CreateRootCmd creates the capturewatch command.
func CreateRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capturewatch <h264|h265> <bitrate> <gop>",
		Short: "Run the capture pipeline while the HDMI input has a signal",
		Long: `Polls the capture subdevice and the stream consumer. The encoder pipeline is started ` +
			`when both are ready and torn down, with every helper process it spawned, when either goes away. ` +
			`Tunables are read from $CAPTUREWATCH_CONFIG (default ` + config.DefaultConfigPath + `) ` +
			`and CAPTUREWATCH_* environment variables.`,
		Example:      "  capturewatch h265 3000000 60",
		Args:         cobra.MatchAll(cobra.ExactArgs(3), validStreamArgs),
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := stream.ParseArgs(args)
			if err != nil {
				return err
			}

			opts := config.DefaultOptions()
			if err := config.LoadConfig(&opts, c); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := opts.Validate(); err != nil {
				return fmt.Errorf("invalid config %s: %w", opts.Config, err)
			}

			logging.Initialize(opts.Logging())
			return run(c.Context(), cfg, opts)
		},
	}

	return cmd
}

// run wires the components and blocks until a termination signal.
func run(ctx context.Context, cfg stream.Config, opts config.Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	build := version.Get()
	metrics.SetBuildInfo(build.Version, build.GitCommit)

	logger := logging.GetLogger("main")
	logger.Info("Starting capturewatch",
		"build", build,
		"stream", cfg.String(),
		"device", opts.DevicePath,
		"pipeline", opts.PipelineCommand,
		"config", opts.Config)

	notifier := systemd.NewNotifier(logging.GetLogger("systemd"))
	if wd := notifier.WatchdogInterval(); wd > 0 && wd <= opts.WatchInterval() {
		logger.Warn("Watchdog interval is shorter than the poll interval", "watchdog", wd, "interval", opts.WatchInterval())
	}

	bus := events.New()
	defer notifier.Follow(bus)()

	supervisor, err := process.NewSupervisor(process.Options{
		Command:      opts.PipelineCommand,
		SweepTokens:  opts.PipelineSweepTokens,
		DrainTimeout: opts.DrainTimeout(),
		KillTimeout:  opts.KillTimeout(),
		Logger:       logging.GetLogger("process"),
		OutputLogger: logging.GetLogger("pipeline"),
		LogParser:    process.ParseLogLevel,
	})
	if err != nil {
		return fmt.Errorf("pipeline command: %w", err)
	}

	device := probe.NewTimingsProbe(opts.DevicePath, opts.DeviceProbeCommand, opts.ProbeTimeout(), nil, logging.GetLogger("probe"))

	consumer, closeConsumer, err := newConsumerProbe(ctx, opts)
	if err != nil {
		return err
	}
	defer closeConsumer()

	if opts.FeaturesLEDControl {
		ledLogger := logging.GetLogger("led")
		ledManager := led.NewManager(led.New(ledLogger), bus, ledLogger)
		ledManager.Start()
		defer ledManager.Stop()
	}

	if opts.MetricsListen != "" {
		stopMetrics := startMetrics(ctx, opts)
		defer stopMetrics()
	}

	configLogger := logging.GetLogger("config")
	watcher := config.NewConfigWatcher(opts.Config, config.Load, configLogger)
	watcher.OnReload(func(o config.Options) {
		logging.SetLevels(o.Logging())
		configLogger.Info("Logging levels reloaded", "level", o.LoggingLevel)
	})
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("Failed to start config watcher, hot-reload disabled", "error", err)
	} else {
		defer func() { _ = watcher.Stop() }()
	}

	// Kill anything a previous crashed instance left behind
	supervisor.Stop()

	loop := watch.NewLoop(watch.Options{
		Device:    device,
		Consumer:  consumer,
		Streamer:  supervisor,
		Stream:    cfg,
		Interval:  opts.WatchInterval(),
		Bus:       bus,
		Heartbeat: notifier.Watchdog,
		Logger:    logging.GetLogger("watch"),
	})

	notifier.Ready()

	cleanup := func() {
		notifier.Stopping()
		supervisor.Stop()
	}
	sig, err := watch.RunUntilSignal(ctx, loop, cleanup, logger, syscall.SIGINT, syscall.SIGTERM)
	if sig != nil {
		logger.Info("Shutdown complete", "signal", sig.String())
	}
	return err
}

// newConsumerProbe picks the consumer check: the control API, then the
// systemd unit, then the process table scan. An unreachable system bus
// falls back to the scan when a token is set.
func newConsumerProbe(ctx context.Context, opts config.Options) (watch.ConsumerProber, func(), error) {
	probeLogger := logging.GetLogger("probe")
	noop := func() {}

	if opts.ConsumerAPIURL != "" {
		probeLogger.Info("Watching consumer API", "url", opts.ConsumerAPIURL)
		client := &http.Client{Timeout: opts.ProbeTimeout()}
		return probe.NewAPIConsumerProbe(opts.ConsumerAPIURL, client, probeLogger), noop, nil
	}

	if opts.ConsumerSystemdUnit != "" {
		mgr, err := systemd.NewManager(ctx)
		if err == nil {
			probeLogger.Info("Watching consumer unit", "unit", opts.ConsumerSystemdUnit)
			return probe.NewUnitConsumerProbe(opts.ConsumerSystemdUnit, mgr, probeLogger), mgr.Close, nil
		}
		if opts.ConsumerToken == "" {
			return nil, noop, fmt.Errorf("consumer unit %s: %w", opts.ConsumerSystemdUnit, err)
		}
		probeLogger.Warn("systemd unavailable, falling back to process scan", "error", err, "token", opts.ConsumerToken)
	}

	probeLogger.Info("Watching consumer process", "token", opts.ConsumerToken)
	return probe.NewProcessConsumerProbe(opts.ConsumerToken, nil, probeLogger), noop, nil
}

// startMetrics serves /metrics and samples encoder load when available.
func startMetrics(ctx context.Context, opts config.Options) func() {
	metricsLogger := logging.GetLogger("metrics")

	mpp := collectors.NewMPPCollector(opts.MetricsMPPPath, mppInterval, metricsLogger)
	if mpp.Available() {
		go mpp.Run(ctx)
	}

	srv := exporters.NewServer(opts.MetricsListen, metricsLogger)
	if err := srv.Start(); err != nil {
		metricsLogger.Warn("Failed to start metrics server", "addr", opts.MetricsListen, "error", err)
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			metricsLogger.Warn("Failed to stop metrics server", "error", err)
		}
	}
}
