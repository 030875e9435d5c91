package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/vibecheck/internal/app"
	"github.com/felixgeelhaar/vibecheck/internal/config"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configDir string
	envFile   string
	catalog   string
	json      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "vibecheck",
		Short: "Practice and track AI-assisted development skills",
		Long: `VibeCheck scores practice submissions for AI-assisted development
challenges and tracks XP, levels, streaks and achievements.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configDir, "config-dir", "", "directory holding config.yaml and secrets.yaml (default ~/.vibecheck)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with VIBECHECK_* overrides")
	root.PersistentFlags().StringVar(&opts.catalog, "catalog", "", "catalog YAML overriding the built-in one")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print results as JSON")

	root.AddCommand(
		newScoreCmd(opts),
		newLevelCmd(opts),
		newShuffleCmd(opts),
		newRecommendCmd(opts),
		newEnrollCmd(opts),
		newCompleteCmd(opts),
		newAuditCmd(opts),
		newMigrateCmd(opts),
		newTokenCmd(opts),
		newMCPCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vibecheck %s\n", Version)
		},
	}
}

// loadConfig reads configuration; the --catalog flag wins over config.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Dir: o.configDir, EnvFiles: []string{o.envFile}})
	if err != nil {
		return nil, err
	}
	if o.catalog != "" {
		cfg.Catalog.Path = o.catalog
	}
	return cfg, nil
}

// openApp loads configuration and opens storage for stateful commands.
func (o *rootOptions) openApp(ctx context.Context) (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return app.New(ctx, cfg, quietLogger(), app.Options{})
}

func (o *rootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

// renderProgressBar creates a visual progress bar
func renderProgressBar(value float64, width int) string {
	filled := int(value * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	empty := width - filled

	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", empty) + "]"
}
