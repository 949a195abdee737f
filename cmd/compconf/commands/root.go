package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/compconf/pkg/telemetry"
)

var (
	// Global flags
	telemetryPath string
	verbose       bool
	jsonOutput    bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "compconf",
		Short: "Component configuration and validation engine",
		Long: `compconf loads component definitions, resolves their property values
against parameter contexts and validates them continuously.

Features:
  - Definitions in YAML or CUE, checked against built-in CUE schemas
  - Parameter contexts with live reload from disk
  - Controller services with versioned bundle compatibility checks
  - Declarative property rules, Starlark rule scripts and Rego policies
  - Validation history in SQLite
  - Prometheus metrics and OpenTelemetry tracing`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&telemetryPath, "telemetry", "", "telemetry config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newBundlesCommand())
	rootCmd.AddCommand(newSchemasCommand())

	return rootCmd
}

// loadTelemetryConfig reads the telemetry configuration, starting from the
// defaults so that a partial file only overrides what it names.
func loadTelemetryConfig() (*telemetry.Config, error) {
	cfg := telemetry.DefaultConfig()
	if telemetryPath != "" {
		data, err := os.ReadFile(telemetryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read telemetry config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse telemetry config %s: %w", telemetryPath, err)
		}
	}
	cfg.ServiceVersion = buildVersion
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func newTelemetry() (*telemetry.Telemetry, error) {
	cfg, err := loadTelemetryConfig()
	if err != nil {
		return nil, err
	}
	return telemetry.NewTelemetry(cfg)
}
