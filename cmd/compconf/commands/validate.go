package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/compconf/pkg/config"
	"github.com/openfroyo/compconf/pkg/telemetry"
)

type validateOptions struct {
	timeout     time.Duration
	passTimeout time.Duration
	workers     int
	dbPath      string
}

func newValidateCommand() *cobra.Command {
	opts := validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate <definition>",
		Short: "Validate the components of a definition",
		Long: `Load a definition, build its components and wait for every component to
finish validating.

This command checks:
  - Definition syntax and schema conformance
  - Required and allowable property values
  - Parameter references and controller service references
  - Property rules, rule scripts and Rego policies

The command fails when a component is invalid or still validating when the
timeout expires.`,
		Example: `  # Validate a definition
  compconf validate checkout.yaml

  # Record the outcome in the validation history
  compconf validate --db history.db checkout.yaml

  # Machine readable output
  compconf validate --json checkout.cue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := newTelemetry()
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(context.Background()) }()

			ctx := tel.WithContext(cmd.Context())
			op := telemetry.StartOperation(ctx, "validate", attribute.String("definition", args[0]))
			reports, err := runValidate(op.Ctx, tel, args[0], opts)
			op.End(err)
			if err != nil {
				return err
			}

			if err := printReports(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
			if n := countInvalid(reports); n > 0 {
				return fmt.Errorf("%d of %d components are not valid", n, len(reports))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "how long to wait for validation to finish")
	cmd.Flags().DurationVar(&opts.passTimeout, "pass-timeout", 10*time.Second, "bound on a single validation pass")
	cmd.Flags().IntVar(&opts.workers, "workers", 4, "number of validation workers")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "record results in this SQLite database")

	return cmd
}

func runValidate(ctx context.Context, tel *telemetry.Telemetry, path string, opts validateOptions) ([]config.Report, error) {
	logger := tel.Logger.Zerolog()

	def, err := config.NewLoader().LoadFile(path)
	if err != nil {
		return nil, err
	}

	vlog := newValidationLog(tel, 0)
	env, err := config.Build(ctx, def, config.Options{
		Logger:            logger,
		Observer:          vlog,
		MaxParallel:       opts.workers,
		ValidationTimeout: opts.passTimeout,
	})
	if err != nil {
		return nil, err
	}

	env.Start(ctx)
	defer env.Stop()

	reports, err := env.Await(ctx, opts.timeout)
	if err != nil {
		return nil, err
	}

	if opts.dbPath != "" {
		store, err := openStore(ctx, opts.dbPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		recorder := &historyRecorder{store: store, env: env, log: vlog}
		if err := recorder.recordReports(ctx, reports); err != nil {
			return nil, fmt.Errorf("failed to record validation history: %w", err)
		}
	}

	logger.Info().
		Str("definition", def.Name).
		Int("components", len(reports)).
		Int("not_valid", countInvalid(reports)).
		Msg("Validation finished")
	return reports, nil
}
