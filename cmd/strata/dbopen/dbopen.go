// Package dbopen resolves configuration and opens the context database for
// strata subcommands.
package dbopen

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/pkg/config"
	"github.com/papercomputeco/strata/pkg/contextdb"
	"github.com/papercomputeco/strata/pkg/credentials"
	"github.com/papercomputeco/strata/pkg/dotdir"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/uri"
)

// Register adds the backend flags, plus any extra registry keys, to cmd.
func Register(cmd *cobra.Command, extra ...string) {
	config.RegisterFlags(cmd, config.StrataFlags, keys(extra))
}

func keys(extra []string) []string {
	return slices.Concat(config.BackendFlags, extra)
}

// Load resolves the effective configuration for cmd: defaults, then
// config.toml, then STRATA_* environment variables, then flags.
func Load(cmd *cobra.Command, extra ...string) (*config.Config, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, err
	}
	config.BindRegisteredFlags(v, cmd, config.StrataFlags, keys(extra))

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// Logger builds the CLI logger. Logs go to stderr so command output can be
// piped.
func Logger(cmd *cobra.Command) *slog.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	return logger.New(
		logger.WithDebug(debug),
		logger.WithPretty(true),
		logger.WithWriter(os.Stderr),
	)
}

// Open loads the configuration for cmd and opens the database in the
// resolved .strata/data directory.
func Open(ctx context.Context, cmd *cobra.Command, extra ...string) (*contextdb.DB, *config.Config, error) {
	cfg, err := Load(cmd, extra...)
	if err != nil {
		return nil, nil, err
	}

	configDir, _ := cmd.Flags().GetString("config-dir")
	if err := applyCredentials(cfg, configDir); err != nil {
		return nil, nil, err
	}

	dataDir, err := dotdir.NewManager().DataDir(configDir)
	if err != nil {
		return nil, nil, err
	}

	db, err := contextdb.Open(ctx, cfg, dataDir, Logger(cmd))
	if err != nil {
		return nil, nil, fmt.Errorf("opening context database: %w", err)
	}
	return db, cfg, nil
}

// applyCredentials fills API keys the configuration leaves empty from the
// environment or the credentials store.
func applyCredentials(cfg *config.Config, configDir string) error {
	creds, err := credentials.NewManager(configDir)
	if err != nil {
		return err
	}

	for _, slot := range []struct {
		key      *string
		provider string
	}{
		{&cfg.LLM.APIKey, cfg.LLM.Provider},
		{&cfg.Embedding.APIKey, cfg.Embedding.Provider},
		{&cfg.VectorStore.APIKey, cfg.VectorStore.Provider},
	} {
		if *slot.key != "" || !credentials.IsSupportedProvider(slot.provider) {
			continue
		}
		key, err := creds.Resolve(slot.provider)
		if err != nil {
			return fmt.Errorf("loading credentials: %w", err)
		}
		*slot.key = key
	}
	return nil
}

// ResolveURI accepts a full strata:// URI or a path relative to the root
// ("resources/doc.md") and returns the canonical URI.
func ResolveURI(arg string) (string, error) {
	if !strings.HasPrefix(arg, uri.Scheme) {
		arg = uri.Scheme + strings.TrimLeft(arg, "/")
	}
	return uri.Parse(arg)
}
