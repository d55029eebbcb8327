package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"inspection-gateway/internal/app"
	"inspection-gateway/middleware/gate"

	"github.com/spf13/cobra"
)

var (
	scoreMethod string
	scorePath   string
)

var scoreCmd = &cobra.Command{
	Use:   "score [file]",
	Short: "Dry-run a request body against the configured policy",
	Long: `score reads a body from file (or stdin when no file or "-" is given) and
runs the size, schema and anomaly checks the gateway would apply to it.
Rate limiting is not consulted. Useful for tuning keywords and the block
threshold.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().StringVarP(&scoreMethod, "method", "X", http.MethodPost, "request method used for schema lookup")
	scoreCmd.Flags().StringVarP(&scorePath, "path", "p", "/", "request path used for schema lookup")
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pol, err := app.BuildPolicy(cfg)
	if err != nil {
		return err
	}

	body, err := readBody(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	dec := pol.Inspect(&gate.Snapshot{
		Method: strings.ToUpper(scoreMethod),
		Path:   scorePath,
		Body:   body,
	})

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Bytes: %d\n", len(body))
	fmt.Fprintf(w, "Score: %d (threshold %d)\n", pol.Scorer.Score(body), pol.BlockThreshold)
	if hits := pol.Scorer.Hits(body); len(hits) > 0 {
		fmt.Fprintf(w, "Keywords: %s\n", strings.Join(hits, ", "))
	}
	if dec.Forward() {
		fmt.Fprintln(w, "Decision: allow")
		return nil
	}
	fmt.Fprintf(w, "Decision: %s %d %s\n", dec.Kind, dec.Status, dec.Detail)
	if dec.Reason != "" {
		fmt.Fprintf(w, "Reason: %s\n", dec.Reason)
	}
	return nil
}

func readBody(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(args[0])
}
