package commands

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/compconf/pkg/bundle"
)

func newBundlesCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "bundles <dir>...",
		Short: "List the bundles found in bundle directories",
		Long: `Scan directories for bundle manifests and list the bundles and the types
they provide. Manifests that cannot be loaded are reported and skipped.`,
		Example: `  compconf bundles ./bundles
  compconf bundles --strict ./bundles ./vendor-bundles`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := bundle.NewRegistry()
			failed := 0
			for _, dir := range args {
				failures, err := bundle.NewManifestLoader(dir).ScanDirectory(dir, registry)
				if err != nil {
					return err
				}
				for path, ferr := range failures {
					log.Warn().Err(ferr).Str("manifest", path).Msg("Skipping bundle")
				}
				failed += len(failures)
			}

			bundles := registry.List()
			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), bundles); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "BUNDLE\tDEPENDENCY\tTYPES")
				for _, b := range bundles {
					dep := "-"
					if b.Dependency != nil {
						dep = b.Dependency.String()
					}
					names := make([]string, 0, len(b.Types))
					for _, t := range b.Types {
						names = append(names, t.Name)
					}
					sort.Strings(names)
					fmt.Fprintf(tw, "%s\t%s\t%s\n", b.Coordinate, dep, strings.Join(names, ","))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}

			if strict && failed > 0 {
				return fmt.Errorf("%d bundle manifests could not be loaded", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "fail when a manifest cannot be loaded")

	return cmd
}
