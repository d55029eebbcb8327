package main

import (
	"fmt"
	"io"
	"strings"

	"inspection-gateway/internal/app"
	"inspection-gateway/internal/config"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print a summary",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := app.BuildPolicy(cfg); err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), cfg)
	return nil
}

func printSummary(w io.Writer, cfg *config.Config) {
	source := cfg.Path
	if source == "" {
		source = "(defaults and environment)"
	}
	fmt.Fprintf(w, "Config: %s\n", source)
	fmt.Fprintf(w, "Listen: %s\n", cfg.Server.ListenAddr)
	if cfg.Server.AdminAddr != "" {
		fmt.Fprintf(w, "Admin: %s\n", cfg.Server.AdminAddr)
	}
	fmt.Fprintf(w, "Backend: %s (timeout %s, breaker %s)\n", cfg.Backend.URL, cfg.Backend.Timeout, onOff(cfg.Backend.Breaker.Enabled))
	fmt.Fprintf(w, "Max body: %d bytes\n", cfg.Limits.MaxBodyBytes)

	if cfg.RateLimit.Enabled {
		fmt.Fprintf(w, "Rate limit: %d per %s (%s)\n", cfg.RateLimit.Limit, cfg.RateLimit.Window, cfg.RateLimit.Algorithm)
	} else {
		fmt.Fprintln(w, "Rate limit: off")
	}

	fmt.Fprintf(w, "Block threshold: %d\n", cfg.Anomaly.BlockThreshold)
	fmt.Fprintf(w, "Keywords (%s, +%d each): %s\n", cfg.Anomaly.Match, cfg.Anomaly.KeywordPenalty, strings.Join(cfg.Anomaly.Keywords, ", "))
	if cfg.Anomaly.SizeThreshold > 0 {
		fmt.Fprintf(w, "Size penalty: +%d above %d bytes\n", cfg.Anomaly.SizePenalty, cfg.Anomaly.SizeThreshold)
	}

	fmt.Fprintln(w, "Validated routes:")
	if len(cfg.Validation) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, rs := range cfg.Validation {
		methods := strings.Join(rs.Methods, ",")
		if methods == "" {
			methods = "ANY"
		}
		fmt.Fprintf(w, "  %s %s (%d fields)\n", methods, rs.Route, len(rs.Fields))
	}

	fmt.Fprintf(w, "Audit sinks: %s (async %s)\n", strings.Join(cfg.Audit.Sinks, ", "), onOff(cfg.Audit.Async))
	fmt.Fprintf(w, "Hot reload: %s\n", onOff(cfg.Reload.Watch))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
