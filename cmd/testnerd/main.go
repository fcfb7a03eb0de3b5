// Command testnerd diagnoses browser test failures and applies bounded,
// verified remediation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"testnerd/internal/config"
	"testnerd/internal/logging"
	"testnerd/internal/system"
)

var (
	// Global flags
	verbose     bool
	configPath  string
	offline     bool
	dryRun      bool
	riskCeiling string
	timeout     time.Duration

	// Logger
	logger *zap.Logger

	// loaded in PersistentPreRunE
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "testnerd",
	Short: "testnerd - diagnose and remediate browser test failures",
	Long: `testnerd classifies a failed browser test step and, where it can, repairs
the page so the step can be retried.

Diagnosis is a cascade: fast local checkers first, then the curated
knowledge base, then a remote analysis service. Each remediation plan is
executed under a risk ceiling and verified before the next round.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyFlagOverrides(cmd, cfg)

		if verbose {
			logging.InitializeWith(logger)
		} else if err := logging.Initialize(cfg.LoggingOptions()); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".testnerd/config.yaml", "Config file")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Record unrecognized conditions instead of calling the analysis service")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Plan remediation without touching the page")
	rootCmd.PersistentFlags().StringVar(&riskCeiling, "risk-ceiling", "", "Highest risk tier executed automatically (LOW, MEDIUM, HIGH)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(kbCmd)
	rootCmd.AddCommand(unknownsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlagOverrides lets explicitly set flags win over the config file.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("offline") {
		c.Cascade.Offline = offline
	}
	if flags.Changed("dry-run") {
		c.Cascade.DryRun = dryRun
	}
	if flags.Changed("risk-ceiling") {
		c.Cascade.RiskCeiling = riskCeiling
	}
}

// commandContext returns a context bounded by --timeout and cancelled on
// SIGINT/SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}

func bootSuite(ctx context.Context) (*system.Suite, error) {
	suite, err := system.BootSuite(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to boot suite: %w", err)
	}
	return suite, nil
}
