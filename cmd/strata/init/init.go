// Package initcmder provides the init command for initializing a local .strata
// directory in the current working directory.
package initcmder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/pkg/cliui"
	"github.com/papercomputeco/strata/pkg/config"
)

const (
	dirName = ".strata"
)

const initLongDesc string = `Initialize a new .strata/ directory in the current working directory.

Creates a local .strata/ directory that takes precedence over the default
~/.strata/ directory for storage, configuration and the current session.
A config.toml is written with default values, or with the values of a
provider preset.

Presets:
  ollama      local models through Ollama (default)
  openai      OpenAI chat and embedding models
  anthropic   Anthropic chat models with Ollama embeddings

Examples:
  strata init
  strata init --preset openai`

const initShortDesc string = "Initialize a local .strata/ directory"

func NewInitCmd() *cobra.Command {
	var preset string

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, preset)
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "", fmt.Sprintf("Provider preset (%s)", strings.Join(config.ValidPresetNames(), ", ")))

	return cmd
}

func runInit(cmd *cobra.Command, preset string) error {
	cfg := config.NewDefaultConfig()
	if preset != "" {
		var err error
		cfg, err = config.PresetConfig(preset)
		if err != nil {
			return err
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating .strata directory: %w", err)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	_, statErr := os.Stat(cfger.GetTarget())
	switch {
	case statErr == nil && preset == "":
		fmt.Fprintf(w, "  %s Already initialized: %s\n", cliui.SuccessMark, dir)
		return nil
	case statErr != nil && !errors.Is(statErr, os.ErrNotExist):
		return fmt.Errorf("checking config: %w", statErr)
	}

	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}

	fmt.Fprintf(w, "  %s Initialized %s\n", cliui.SuccessMark, cliui.ValueStyle.Render(dir))
	if preset != "" {
		fmt.Fprintf(w, "  %s %s\n", cliui.KeyStyle.Render("Preset:"), preset)
	}
	return nil
}
