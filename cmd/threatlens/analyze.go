package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iyulab/threatlens/internal/orchestrator"
	"github.com/iyulab/threatlens/internal/reporter"
	"github.com/iyulab/threatlens/internal/samples"
	"github.com/iyulab/threatlens/internal/telemetry"
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "analyze [login|firewall|patch|all]",
		Short:     "Analyze telemetry and print the risk report",
		Long:      "Without input flags the embedded sample telemetry is analyzed.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"login", "firewall", "patch", "all"},
		RunE:      runAnalyze,
	}
	cmd.Flags().String("login-file", "", "login events (JSON or YAML)")
	cmd.Flags().String("firewall-file", "", "firewall events (JSON or YAML)")
	cmd.Flags().String("patch-file", "", "patch inventory (JSON or YAML)")
	cmd.Flags().String("bundle", "", "file with login/firewall/patch keys")
	cmd.Flags().String("context", "", "analyst context passed to the model")
	cmd.Flags().Bool("json", false, "print the report as JSON")
	cmd.Flags().String("out", "", "output directory (overrides output.dir)")
	cmd.Flags().Bool("no-save", false, "do not write the report to disk")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	asJSON, _ := cmd.Flags().GetBool("json")
	noSave, _ := cmd.Flags().GetBool("no-save")
	if out, _ := cmd.Flags().GetString("out"); out != "" {
		a.cfg.Output.Dir = out
	}

	in, err := loadInput(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 && args[0] != "all" {
		d, err := telemetry.ParseDomain(args[0])
		if err != nil {
			return err
		}
		in = in.Only(d)
	}
	in.AnalystContext, _ = cmd.Flags().GetString("context")

	engine, err := a.engine()
	if err != nil {
		return err
	}
	rep, err := engine.Run(cmd.Context(), in)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	} else {
		r, err := reporter.New()
		if err != nil {
			return err
		}
		if err := r.RenderText(cmd.OutOrStdout(), *rep); err != nil {
			return err
		}
	}

	if noSave {
		return nil
	}
	saved, err := engine.Save(rep)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Report: %s (sha256 %s)\n", saved.Path, saved.SHA256)
	if saved.Archive != "" {
		fmt.Fprintf(os.Stderr, "Archive: %s\n", saved.Archive)
	}
	return nil
}

// loadInput reads per-domain files, else a bundle, else the embedded samples.
func loadInput(cmd *cobra.Command) (orchestrator.Input, error) {
	var in orchestrator.Input
	files := map[telemetry.Domain]string{}
	for _, d := range telemetry.Domains() {
		if path, _ := cmd.Flags().GetString(string(d) + "-file"); path != "" {
			files[d] = path
		}
	}

	if len(files) > 0 {
		for d, path := range files {
			raw, err := orchestrator.LoadInputFile(path)
			if err != nil {
				return in, err
			}
			in.Set(d, raw)
		}
		return in, nil
	}

	if bundle, _ := cmd.Flags().GetString("bundle"); bundle != "" {
		return orchestrator.LoadBundle(bundle)
	}

	fmt.Fprintln(os.Stderr, "[*] No input given, analyzing embedded sample telemetry")
	return orchestrator.DecodeBundle(samples.JSON(), orchestrator.FormatJSON)
}
