// secflow - EDGAR index and filing cache
// Maintains quarterly master indexes, filters them into working sets and
// fetches the matching filings under a shared rate limit.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/config"
	"github.com/secflow/secflow/pkg/errors"
	"github.com/secflow/secflow/pkg/storage/s3"
	"github.com/secflow/secflow/pkg/telemetry"
	"github.com/secflow/secflow/pkg/tui"
	"github.com/secflow/secflow/pkg/workspace"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	envFile    string
	dataDir    string
	userAgent  string
	rateLimit  int
	fromPeriod string
	toPeriod   string
	verbose    bool
	noProgress bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		switch {
		case errors.Is(err, errors.ErrConfig):
			fmt.Fprintln(os.Stderr, "Fix the setting in ~/.secflow/config.yaml, ./.secflow.yaml or the matching SECFLOW_ variable")
		case errors.IsCode(err, errors.CodePrecondition):
			fmt.Fprintln(os.Stderr, "Run secflow update first, and pass filter flags that match at least one filing")
		case errors.IsRetryable(err):
			fmt.Fprintln(os.Stderr, "Run the command again to retry; cached files are skipped")
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "secflow",
	Short: "secflow - EDGAR index and filing cache",
	Long: `secflow downloads and caches the SEC EDGAR quarterly master indexes,
filters them into a working set of filings and fetches the header or full
submission of every filing in the set.

The provider requires a User-Agent naming you and a contact address:
  export SECFLOW_USER_AGENT="Example Corp admin@example.com"`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: /etc/secflow, ~/.secflow, ./.secflow.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before configuration")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Cache directory")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "", "User-Agent sent to the provider")
	rootCmd.PersistentFlags().IntVar(&rateLimit, "rate-limit", 0, "Maximum requests per rate interval")
	rootCmd.PersistentFlags().StringVar(&fromPeriod, "from", "", "First index quarter, e.g. 2019Q4")
	rootCmd.PersistentFlags().StringVar(&toPeriod, "to", "", "Last index quarter, e.g. 2020Q1 (default: current quarter)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "Disable progress bars")

	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(filterCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(fieldsCmd)
	rootCmd.AddCommand(peekCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig merges files, environment and flags.
func loadConfig() (*config.Config, error) {
	m, err := loadManager()
	if err != nil {
		return nil, err
	}
	cfg := m.Get()
	return cfg, cfg.Validate()
}

// loadManager loads configuration and applies flag overrides without
// validating the result.
func loadManager() (*config.Manager, error) {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	var m *config.Manager
	if configFile != "" {
		m = config.NewManager(configFile)
	} else {
		m = config.NewManager()
	}
	if err := m.Load(); err != nil {
		return nil, err
	}
	cfg := m.Get()

	if dataDir != "" {
		cfg.Cache.DataDir = dataDir
	}
	if userAgent != "" {
		cfg.Provider.UserAgent = userAgent
	}
	if rateLimit > 0 {
		cfg.Rate.Limit = rateLimit
	}
	if err := applyRange(cfg, fromPeriod, toPeriod); err != nil {
		return nil, err
	}
	return m, nil
}

// applyRange overrides the configured index range with --from and --to.
func applyRange(cfg *config.Config, from, to string) error {
	if from != "" {
		p, err := model.ParsePeriod(from)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		cfg.Range.StartYear, cfg.Range.StartQuarter = p.Year, p.Quarter
	}
	if to != "" {
		p, err := model.ParsePeriod(to)
		if err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
		cfg.Range.EndYear, cfg.Range.EndQuarter = p.Year, p.Quarter
	}
	return nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// session is the state shared by one command invocation.
type session struct {
	cfg      *config.Config
	ws       *workspace.Workspace
	printer  *tui.Printer
	logger   *slog.Logger
	shutdown telemetry.Shutdown
}

// openSession builds a workspace from configuration, with tracing and the
// S3 mirror when they are enabled.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger()
	slog.SetDefault(logger)

	shutdown := telemetry.Shutdown(func(context.Context) error { return nil })
	if cfg.Telemetry.Enabled {
		tcfg := telemetry.DefaultConfig()
		tcfg.Endpoint = cfg.Telemetry.Endpoint
		tcfg.Insecure = cfg.Telemetry.Insecure
		tcfg.SamplingRatio = cfg.Telemetry.SamplingRatio
		tcfg.ServiceVersion = version
		shutdown, err = telemetry.Init(ctx, tcfg)
		if err != nil {
			return nil, err
		}
	}

	opts := workspace.Options{Config: cfg, Logger: logger}
	if !noProgress {
		opts.Progress = tui.Progress(os.Stderr)
	}
	if cfg.Storage.S3.Enabled {
		scfg := s3.DefaultConfig(cfg.Storage.S3.Bucket, cfg.Storage.S3.Region)
		scfg.Prefix = cfg.Storage.S3.Prefix
		scfg.Endpoint = cfg.Storage.S3.Endpoint
		scfg.UsePathStyle = cfg.Storage.S3.UsePathStyle
		mirror, err := s3.New(ctx, scfg)
		if err != nil {
			shutdown(ctx)
			return nil, err
		}
		opts.Mirror = mirror
		logger.Info("s3 mirror enabled", "bucket", mirror.Bucket(), "prefix", scfg.Prefix)
	}

	ws, err := workspace.New(opts)
	if err != nil {
		shutdown(ctx)
		return nil, err
	}
	return &session{
		cfg:      cfg,
		ws:       ws,
		printer:  tui.NewPrinter(os.Stdout),
		logger:   logger,
		shutdown: shutdown,
	}, nil
}

func (s *session) Close() {
	stats := s.ws.Limiter().Stats()
	s.logger.Debug("session finished",
		"requests", s.ws.Fetcher().Requests(),
		"permits", stats.Permits,
		"throttled", stats.Throttled,
		"waited", stats.TotalWait)
	if err := s.shutdown(context.Background()); err != nil {
		s.logger.Warn("telemetry shutdown failed", "error", err)
	}
}

// run executes fn with a session and a context cancelled on interrupt.
func run(fn func(ctx context.Context, s *session) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}
