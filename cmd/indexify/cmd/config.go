package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/indexify/configs"
	"github.com/Aman-CERP/indexify/internal/config"
	"github.com/Aman-CERP/indexify/internal/output"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the Indexify configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/indexify/config.yaml)
  3. Project config (./indexify.yaml) or --config
  4. .env in the working directory
  5. Environment variables (INDEXIFY_*)`,
		Example: `  # Create the user config from the template
  indexify config init

  # Create ./indexify.yaml instead
  indexify config init --project

  # Show the effective configuration
  indexify config show`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(flags))
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		project bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.GetUserConfigPath()
			if project {
				cwd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get current directory: %w", err)
				}
				path = filepath.Join(cwd, config.ProjectConfigNames[0])
			}
			return runConfigInit(cmd, path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file (a backup is kept)")
	cmd.Flags().BoolVar(&project, "project", false, "Write ./indexify.yaml instead of the user config")

	return cmd
}

func runConfigInit(cmd *cobra.Command, path string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warning("Configuration already exists")
			out.Statusf("", "Location: %s", path)
			out.Status("", "Use --force to replace it; the old file is backed up")
			return nil
		}
		backup, err := config.BackupFile(path)
		if err != nil {
			return err
		}
		out.Statusf("", "Backup: %s", backup)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Success("Created configuration")
	out.Statusf("", "Location: %s", path)
	out.Status("", "Run 'indexify config show' to verify")
	return nil
}

func newConfigShowCmd(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(cfg, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal config: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
