package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/journal-sync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "init",
		Short:       "Write a commented default config file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigInit,
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <section> <key> <value>",
		Short: "Set one key in the config file",
		Long: `Set one key in the config file, creating the file if needed.

Example:
  journal-sync config set remote url https://journal.example.com`,
		Args:        cobra.ExactArgs(3),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigSet,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		redacted := *cc.Cfg
		if redacted.Token != "" {
			redacted.Token = "(set)"
		}

		if redacted.Media.S3SecretKey != "" {
			redacted.Media.S3SecretKey = "(set)"
		}

		return printJSON(cmd.OutOrStdout(), redacted)
	}

	return config.RenderEffective(cc.Cfg, cmd.OutOrStdout())
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := configFilePath()

	if err := config.CreateDefault(path); err != nil {
		return err
	}

	statusf(flagQuiet, "Wrote %s\n", path)

	return nil
}

func runConfigSet(_ *cobra.Command, args []string) error {
	path := configFilePath()
	section, key, value := strings.ToLower(args[0]), strings.ToLower(args[1]), args[2]

	if err := config.SetKey(path, section, key, value); err != nil {
		return err
	}

	// SetKey checks the key, not the value; report a file that no longer loads.
	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("config now invalid, fix %s: %w", path, err)
	}

	statusf(flagQuiet, "Set [%s] %s in %s\n", section, key, path)

	return nil
}

// configFilePath returns the config file the commands operate on:
// --config, then the environment, then the platform default.
func configFilePath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}

	if p := os.Getenv(config.EnvConfig); p != "" {
		return p
	}

	return config.DefaultConfigPath()
}
