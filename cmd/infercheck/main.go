// End-to-end checks for LLM inference deployments
// Runs guardrail and receipt-extraction workflows with every remote call traced
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andrewh/infercheck/pkg/config"
	"github.com/andrewh/infercheck/pkg/generate"
	"github.com/andrewh/infercheck/pkg/runner"
	"github.com/andrewh/infercheck/pkg/store"
	"github.com/andrewh/infercheck/pkg/telemetry"
	"github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds what every subcommand shares once flags are parsed.
type app struct {
	logLevel  string
	verbose   bool
	stdout    bool
	envFile   string
	pyroscope string

	logger *zap.Logger
	cfg    *config.Config
}

func rootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "infercheck",
		Short:        "End-to-end checks for LLM inference deployments",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.String(config.KeyGenerationURL, "", "generation service base URL (env LLAMA_STACK_URL; probed when unset)")
	pf.String(config.KeyGuardURL, "", "classification service base URL (env LLAMA_GUARD_URL)")
	pf.String(config.KeyModel, "", "generation model (env MODEL_NAME)")
	pf.String(config.KeyGuardModel, "", "classification model (env GUARD_MODEL_NAME)")
	pf.String(config.KeyEndpoint, "", "OTLP trace endpoint, URL or host:port (env OTEL_TRACE_ENDPOINT)")
	pf.String(config.KeyProtocol, "", "OTLP protocol: http/protobuf or grpc (env OTEL_EXPORTER_OTLP_PROTOCOL)")
	pf.String(config.KeySignals, "", "comma-separated signals to export: traces,metrics,logs (env INFERCHECK_SIGNALS)")
	pf.BoolVar(&a.stdout, "stdout", false, "write telemetry to stdout as JSON instead of a collector")
	pf.StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file read before the environment (ignored if missing)")
	pf.StringVar(&a.pyroscope, "pyroscope", "", "send continuous profiles to this Pyroscope server URL")

	root.AddCommand(guardrailsCmd(a))
	root.AddCommand(receiptCmd(a))
	root.AddCommand(fetchCmd())
	root.AddCommand(spansCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(versionCmd())

	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	level, err := zapcore.ParseLevel(a.logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	if a.verbose {
		level = zapcore.DebugLevel
	}
	a.logger = zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(cmd.ErrOrStderr()),
		level,
	))

	cfg, err := config.Load(cmd.Flags(), a.envFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// startTelemetry builds the Recorder for a workflow and, when requested, starts
// the profiler. The returned func flushes both and must be called once.
func (a *app) startTelemetry(ctx context.Context, cmd *cobra.Command, service string) (*telemetry.Recorder, func(), error) {
	signals, err := telemetry.ParseSignals(a.cfg.Signals)
	if err != nil {
		return nil, nil, err
	}
	if err := telemetry.ValidateProtocol(a.cfg.Protocol); err != nil {
		return nil, nil, err
	}

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		a.logger.Debug("telemetry export failed", zap.Error(err))
	}))

	if !a.stdout {
		if err := telemetry.CheckEndpoint(a.cfg.Endpoint, a.cfg.Protocol); err != nil {
			a.logger.Warn("trace collector unreachable", zap.String("endpoint", a.cfg.Endpoint))
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n\n", err)
		}
	}

	rec, err := telemetry.New(ctx, telemetry.Options{
		ServiceName:    service,
		ServiceVersion: version,
		Endpoint:       a.cfg.Endpoint,
		Protocol:       a.cfg.Protocol,
		Stdout:         a.stdout,
		Writer:         cmd.OutOrStdout(),
		Signals:        signals,
	})
	if err != nil {
		return nil, nil, err
	}

	var profiler *pyroscope.Profiler
	if a.pyroscope != "" {
		profiler, err = pyroscope.Start(pyroscope.Config{
			ApplicationName: service,
			ServerAddress:   a.pyroscope,
			Tags:            map[string]string{"version": version},
		})
		if err != nil {
			_ = rec.Shutdown(ctx)
			return nil, nil, fmt.Errorf("starting profiler: %w", err)
		}
		a.logger.Info("profiling enabled", zap.String("server", a.pyroscope))
	}

	return rec, func() {
		if err := rec.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Debug("telemetry shutdown", zap.Error(err))
		}
		if profiler != nil {
			_ = profiler.Stop()
		}
	}, nil
}

// generationURL returns the configured generation URL, probing the known
// deployments when none was given.
func (a *app) generationURL(ctx context.Context) string {
	if a.cfg.GenerationURL != "" {
		return a.cfg.GenerationURL
	}
	return generate.Detect(ctx, nil, generate.DefaultCandidates, config.DefaultGenerationURL, a.logger)
}

// saveHistory records rep in the database at path.
func (a *app) saveHistory(ctx context.Context, path string, rep *runner.Report) error {
	db, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // nothing left to flush after SaveRun
	if err := db.SaveRun(ctx, rep); err != nil {
		return err
	}
	a.logger.Info("run saved to history", zap.String("run_id", rep.RunID), zap.String("path", path))
	return nil
}

// interruptible cancels ctx on SIGINT or SIGTERM.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "infercheck %s (commit: %s, built: %s)\n", version, commit, buildTime)
		},
	}
}
