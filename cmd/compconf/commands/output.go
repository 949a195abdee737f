package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/openfroyo/compconf/pkg/config"
	"github.com/openfroyo/compconf/pkg/engine"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type reportOutput struct {
	ComponentID string                    `json:"component_id"`
	Name        string                    `json:"name"`
	Type        string                    `json:"type"`
	Status      engine.ValidationStatus   `json:"status"`
	Results     []engine.ValidationResult `json:"results,omitempty"`
}

func printReports(w io.Writer, reports []config.Report) error {
	if jsonOutput {
		out := make([]reportOutput, len(reports))
		for i, r := range reports {
			out[i] = reportOutput(r)
		}
		return writeJSON(w, out)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tTYPE\tSTATUS\tRESULTS")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.ComponentID, r.Type, r.Status, len(r.Results))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range reports {
		for _, res := range r.Results {
			fmt.Fprintf(w, "  %s: %s\n", r.ComponentID, res)
		}
	}
	return nil
}

func countInvalid(reports []config.Report) int {
	n := 0
	for _, r := range reports {
		if r.Status != engine.StatusValid {
			n++
		}
	}
	return n
}
