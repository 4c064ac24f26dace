package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/loopos/loopos/internal/seed"
)

// SeedOptions defines the flags of the seed command.
type SeedOptions struct {
	Path   string
	Stdout io.Writer
	Stderr io.Writer
}

// SeedCommand applies a YAML seed file and prints the summary as JSON.
func SeedCommand(ctx context.Context, loader *seed.Loader, opts SeedOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Path == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "seed: --file is required")
		return 2
	}
	f, err := seed.ParseFile(opts.Path)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "seed: %v\n", err)
		return 1
	}
	sum, err := loader.Apply(ctx, f)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "seed: %v\n", err)
		return 1
	}
	if err := json.NewEncoder(opts.Stdout).Encode(sum); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "seed: encode json: %v\n", err)
		return 1
	}
	return 0
}
