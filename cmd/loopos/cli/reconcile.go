package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/loopos/loopos/internal/assignments"
)

// Sweeper re-derives every membership from the stored assignments.
type Sweeper interface {
	ReconcileAll(ctx context.Context) (assignments.Result, error)
}

// ReconcileOptions defines the flags of the reconcile command.
type ReconcileOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileSummary describes the JSON output of the reconcile command.
type ReconcileSummary struct {
	Changed []string `json:"changed"`
}

// ReconcileCommand runs one sweep in-process and returns the exit code.
func ReconcileCommand(ctx context.Context, sweeper Sweeper, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	res, err := sweeper.ReconcileAll(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		summary := ReconcileSummary{Changed: res.Changed}
		if summary.Changed == nil {
			summary.Changed = []string{}
		}
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	if len(res.Changed) == 0 {
		_, _ = fmt.Fprintln(opts.Stdout, "memberships already consistent")
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "repaired %d user(s): %s\n", len(res.Changed), strings.Join(res.Changed, ", "))
	return 0
}
