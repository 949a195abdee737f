package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/compconf/pkg/config"
	"github.com/openfroyo/compconf/pkg/engine"
	"github.com/openfroyo/compconf/pkg/policy"
)

func newWatchCommand() *cobra.Command {
	var (
		passTimeout time.Duration
		workers     int
		dbPath      string
		metrics     bool
	)

	cmd := &cobra.Command{
		Use:   "watch <definition>",
		Short: "Keep a definition validated while its inputs change",
		Long: `Build the components of a definition and keep them validated until
interrupted.

The parameter file of the parameter context and the policy paths are watched;
changes are applied to the running components, which revalidate. Every
completed validation is logged and, with --db, recorded in the validation
history. Metrics are served on the address from the telemetry config.`,
		Example: `  # Watch a definition
  compconf watch checkout.yaml

  # Watch and record history, without the metrics endpoint
  compconf watch --db history.db --metrics=false checkout.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := newTelemetry()
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(context.Background()) }()

			ctx := tel.WithContext(cmd.Context())
			logger := tel.Logger.Zerolog()

			def, err := config.NewLoader().LoadFile(args[0])
			if err != nil {
				return err
			}

			vlog := newValidationLog(tel, 256)
			env, err := config.Build(ctx, def, config.Options{
				Logger:            logger,
				Observer:          vlog,
				MaxParallel:       workers,
				ValidationTimeout: passTimeout,
			})
			if err != nil {
				return err
			}
			env.Start(ctx)
			defer env.Stop()

			if metrics {
				if server := tel.Metrics.StartMetricsServer(logger); server != nil {
					defer func() {
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						_ = server.Shutdown(shutdownCtx)
					}()
				}
			}

			var recorder *historyRecorder
			if dbPath != "" {
				store, err := openStore(ctx, dbPath)
				if err != nil {
					return err
				}
				defer store.Close()
				recorder = &historyRecorder{store: store, env: env, log: vlog}
			}

			g, gctx := errgroup.WithContext(ctx)

			if def.Parameters != nil && def.Parameters.File != "" {
				watcher := config.NewParameterWatcher(def.ResolvePath(def.Parameters.File), env.Parameters, def.Parameters.Parameters, logger)
				g.Go(func() error { return watcher.Run(gctx) })
			}

			if len(def.Policies) > 0 {
				paths := make([]string, len(def.Policies))
				for i, p := range def.Policies {
					paths[i] = def.ResolvePath(p)
				}
				loader := policy.NewLoader(logger)
				err := loader.Watch(gctx, paths, func(policies []policy.Policy) error {
					return env.ReplacePolicies(gctx, policies)
				})
				if err != nil {
					return err
				}
				defer func() { _ = loader.StopWatching() }()
			}

			g.Go(func() error {
				for {
					select {
					case <-gctx.Done():
						return nil
					case id := <-vlog.completed:
						reportCompletion(gctx, env, recorder, id)
					}
				}
			})

			logger.Info().Str("definition", def.Name).Msg("Watching definition")
			return g.Wait()
		},
	}

	cmd.Flags().DurationVar(&passTimeout, "pass-timeout", 10*time.Second, "bound on a single validation pass")
	cmd.Flags().IntVar(&workers, "workers", 4, "number of validation workers")
	cmd.Flags().StringVar(&dbPath, "db", "", "record results in this SQLite database")
	cmd.Flags().BoolVar(&metrics, "metrics", true, "serve Prometheus metrics")

	return cmd
}

func reportCompletion(ctx context.Context, env *config.Environment, recorder *historyRecorder, componentID string) {
	node, ok := env.Node(componentID)
	if !ok {
		return
	}
	state := node.ValidationState()
	// a newer pass is already queued
	if state.Status() == engine.StatusValidating {
		return
	}

	logger := env.Logger().With().Str("component_id", componentID).Logger()
	event := logger.Info()
	if state.Status() == engine.StatusInvalid {
		event = logger.Warn()
	}
	results := state.Results()
	explanations := make([]string, len(results))
	for i, r := range results {
		explanations[i] = r.String()
	}
	event.Str("status", string(state.Status())).Strs("results", explanations).Msg("Component validated")

	if recorder == nil {
		return
	}
	if err := recorder.record(ctx, componentID, state.Status(), results); err != nil {
		logger.Error().Err(err).Msg("Failed to record validation")
	}
}
