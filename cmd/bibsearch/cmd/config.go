package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/bibsearch/internal/config"
	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage user configuration",
		Long: `Manage the user configuration file.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/bibsearch/config.yaml)
  3. Project config (.bibsearch.yaml in the working directory)
  4. Environment variables (BIBSEARCH_*)`,
		Example: `  bibsearch config init
  bibsearch config show --json
  bibsearch config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the user configuration file",
		Long: `Create the user configuration file with default values.

With --force an existing file is backed up and upgraded: options it does
not set are filled with defaults and existing settings are kept.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Upgrade an existing configuration")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, project, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	configPath := config.GetUserConfigPath()

	if config.UserConfigExists() {
		if !force {
			out.Warning("User configuration already exists")
			out.Statusf("📁", "Location: %s", configPath)
			out.Status("💡", "Use --force to upgrade with new defaults (keeps your settings)")
			return nil
		}
		return runConfigUpgrade(out, configPath)
	}

	if err := config.NewConfig().WriteYAML(configPath); err != nil {
		return err
	}

	out.Success("Created user configuration")
	out.Statusf("📁", "Location: %s", configPath)
	out.Status("💡", "Run 'bibsearch config show' to verify")
	return nil
}

func runConfigUpgrade(out *output.Writer, configPath string) error {
	backupPath, err := config.BackupUserConfig()
	if err != nil {
		return fmt.Errorf("failed to backup config: %w", err)
	}

	// Decode into an empty config so unset fields stay zero and get reported.
	existing, err := readConfigFile(configPath, &config.Config{})
	if err != nil {
		return err
	}
	added := existing.MergeNewDefaults(config.NewConfig())

	if err := existing.WriteYAML(configPath); err != nil {
		return fmt.Errorf("failed to write upgraded config: %w", err)
	}

	out.Success("Configuration upgraded")
	out.Statusf("📁", "Location: %s", configPath)
	out.Statusf("💾", "Backup: %s", backupPath)
	if len(added) == 0 {
		out.Status("✓", "Your configuration is already up to date")
		return nil
	}
	out.Status("✨", "New options added with defaults:")
	for _, field := range added {
		out.Statusf("", "  - %s", field)
	}
	return nil
}

func readConfigFile(path string, into *config.Config) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return nil, bserrors.ConfigError(fmt.Sprintf("failed to parse %s", path), err)
	}
	return into, nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	out := output.New(cmd.OutOrStdout())

	var (
		cfg  *config.Config
		desc string
		err  error
	)

	switch source {
	case "merged":
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
		desc = "merged (defaults + user + project + env)"

	case "user":
		path := config.GetUserConfigPath()
		if !config.UserConfigExists() {
			out.Warning("No user configuration file found")
			out.Statusf("📁", "Expected at: %s", path)
			out.Status("💡", "Run 'bibsearch config init' to create one")
			return nil
		}
		if cfg, err = readConfigFile(path, config.NewConfig()); err != nil {
			return err
		}
		desc = fmt.Sprintf("user (%s)", path)

	case "project":
		path, ok := findProjectConfig()
		if !ok {
			out.Warning("No project configuration file found")
			out.Statusf("📁", "Expected at: %s", config.ProjectConfigYAML)
			return nil
		}
		if cfg, err = readConfigFile(path, config.NewConfig()); err != nil {
			return err
		}
		desc = fmt.Sprintf("project (%s)", path)

	case "defaults":
		cfg = config.NewConfig()
		desc = "defaults"

	default:
		return bserrors.InvalidArgument(fmt.Sprintf("invalid source %q (use: merged, user, project, defaults)", source))
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	out.Statusf("📋", "Configuration source: %s", desc)
	out.Newline()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func findProjectConfig() (string, bool) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for _, name := range []string{config.ProjectConfigYAML, config.ProjectConfigYML} {
		path := filepath.Join(cwd, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}
