package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iyulab/threatlens/internal/detector"
	"github.com/iyulab/threatlens/internal/orchestrator"
	"github.com/iyulab/threatlens/internal/samples"
	"github.com/iyulab/threatlens/internal/server"
	"github.com/iyulab/threatlens/internal/telemetry"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the effective configuration and check the model endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			c := a.cfg
			fmt.Fprintf(out, "Provider:   %s\n", c.LLM.Provider)
			fmt.Fprintf(out, "Endpoint:   %s\n", c.LLM.Endpoint)
			fmt.Fprintf(out, "Model:      %s (temperature %.2f, max tokens %d)\n", c.LLM.Model, c.LLM.Temperature, c.LLM.MaxTokens)
			fmt.Fprintf(out, "Retries:    %d attempt(s), base delay %s, timeout %s\n", c.LLM.MaxAttempts, c.LLM.BaseDelay(), c.LLM.TimeoutDuration())
			fmt.Fprintf(out, "Weights:    login %.2f / firewall %.2f / patch %.2f\n", c.Risk.Weights.Login, c.Risk.Weights.Firewall, c.Risk.Weights.Patch)
			fmt.Fprintf(out, "Thresholds: critical %d / high %d / medium %d\n", c.Risk.Thresholds.Critical, c.Risk.Thresholds.High, c.Risk.Thresholds.Medium)
			fmt.Fprintf(out, "Output:     %s\n", c.Output.Dir)

			engine, err := a.engine()
			if err != nil {
				return err
			}
			models, err := engine.Gateway().HealthCheck(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "Health:     DEGRADED (%v)\n", err)
				return fmt.Errorf("model endpoint is not healthy")
			}
			fmt.Fprintf(out, "Health:     OK (%d model(s) available)\n", len(models))
			return nil
		},
	}
}

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the built-in scenarios over the embedded sample telemetry",
		Args:  cobra.NoArgs,
		RunE:  runSelfTest,
	}
	cmd.Flags().Bool("live", false, "also run a full analysis against the configured model")
	return cmd
}

func runSelfTest(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	out := cmd.OutOrStdout()

	raw, err := samples.Load()
	if err != nil {
		return err
	}
	set, err := detector.NewSet(a.cfg.Detectors)
	if err != nil {
		return err
	}

	got := make(map[telemetry.Domain][]detector.Indicator)
	now := time.Now()
	for _, d := range telemetry.Domains() {
		batch, err := telemetry.Normalize(raw[d], d, now)
		if err != nil {
			return fmt.Errorf("normalize %s samples: %w", d, err)
		}
		indicators, summary, err := set.Detect(batch, now)
		if err != nil {
			return err
		}
		got[d] = indicators
		fmt.Fprintf(out, "%-18s %d record(s), %d indicator(s)\n", d.Title(), summary.Total, summary.IndicatorCount)
	}

	failures := samples.Verify(samples.Expectations(), got)
	for _, f := range failures {
		fmt.Fprintf(out, "  FAIL %s\n", f)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d detector scenario(s) failed", len(failures))
	}
	fmt.Fprintf(out, "Detector scenarios: %d passed\n", len(samples.Expectations()))

	live, _ := cmd.Flags().GetBool("live")
	if !live {
		return nil
	}

	engine, err := a.engine()
	if err != nil {
		return err
	}
	in, err := orchestrator.DecodeBundle(samples.JSON(), orchestrator.FormatJSON)
	if err != nil {
		return err
	}
	rep, err := engine.Run(cmd.Context(), in)
	if err != nil {
		return err
	}

	var failed []string
	for _, r := range rep.Analyses {
		if !r.Available() {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Domain, r.Error))
		}
	}
	fmt.Fprintf(out, "Live analysis: score %d (%s), %d/%d domain(s) answered\n",
		rep.Risk.Score, rep.Risk.Level, rep.Risk.AvailableDomains, len(rep.Analyses))
	if len(failed) > 0 {
		return fmt.Errorf("live analysis failed for: %s", strings.Join(failed, "; "))
	}
	return nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API on localhost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			port, _ := cmd.Flags().GetInt("port")
			if !cmd.Flags().Changed("port") {
				port = a.cfg.Server.Port
			}

			srv := server.New(a.engine, a.metrics, a.log)
			addr, err := srv.Start(cmd.Context(), port)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "[*] Listening on http://%s (Ctrl+C to stop)\n", addr)

			<-cmd.Context().Done()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			a.log.Info("server stopped", zap.String("addr", addr))
			return nil
		},
	}
	cmd.Flags().Int("port", 8000, "listen port (overrides server.port)")
	return cmd
}
