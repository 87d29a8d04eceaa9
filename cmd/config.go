package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/voicecapture/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage VoiceCapture configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Printf("# %s\n", cfgFile)
		fmt.Print(string(out))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  `Write a single key (e.g. output.max_duration_seconds) to the config file.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, raw := args[0], args[1]

		// keep numbers and booleans typed in the YAML
		var value interface{} = raw
		if n, err := strconv.Atoi(raw); err == nil {
			value = n
		} else if b, err := strconv.ParseBool(raw); err == nil {
			value = b
		}

		if err := config.UpdateValue(cfgFile, key, value); err != nil {
			return err
		}
		if _, err := config.Load(cfgFile, true); err != nil {
			return fmt.Errorf("config written but no longer valid: %w", err)
		}

		fmt.Printf("%s = %v\n", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
