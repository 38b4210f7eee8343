package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Vueroeruco/chzzk-recorder/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing chzzk-recorder configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect this output to a file to create a configuration template:

  chzzk-recorder config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, ./configs/config.yaml, /etc/chzzk-recorder/config.yaml)
  - Environment variables (CHZZK_RECORDER_POLL_INTERVAL, CHZZK_STORAGE_RECORDINGS_DIR, ...)

Environment variables use the CHZZK_ prefix and underscores for nesting.
Example: recorder.poll_interval -> CHZZK_RECORDER_POLL_INTERVAL`,
	RunE: runConfigDump,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  "Show the configuration after merging defaults, config file and environment.",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)

	out, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}
