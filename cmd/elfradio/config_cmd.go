package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elfradio/elfradio/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config.yaml if none exists",
	RunE:  runConfigInit,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key=value>...",
	Short: "Change configuration values; running tasks keep their settings",
	Long: `Set one or more values by dotted key, for example:

  elfradio config set timing.tx_interval_s=90 radio_etiquette.callsign=BG7XYZ

Values are parsed as YAML scalars. The change applies from the next task.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.NewLoader(configDir).Path())
	},
}

var (
	showLocal bool
	setLocal  bool
)

func init() {
	configCmd.AddCommand(configShowCmd, configInitCmd, configSetCmd, configPathCmd)
	configSetCmd.Flags().BoolVar(&setLocal, "local", false, "Edit the local config file instead of asking the daemon")
	configShowCmd.Flags().BoolVar(&showLocal, "local", false, "Read the local config directory instead of asking the daemon")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	var masked *config.Config
	if showLocal {
		cfg, err := config.NewLoader(configDir).Snapshot()
		if err != nil {
			return err
		}
		masked = cfg.Masked()
	} else {
		raw, err := newAPIClient().Config()
		if err != nil {
			return err
		}
		masked = &config.Config{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		if err := dec.Decode(masked); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}

	out, err := yaml.Marshal(masked)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(configDir)
	if err := loader.WriteDefault(); err != nil {
		return err
	}
	fmt.Printf("Config: %s\n", loader.Path())
	return nil
}

// parseAssignments turns key=value arguments into config updates.
func parseAssignments(args []string) (map[string]interface{}, error) {
	updates := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		var value interface{}
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		updates[key] = value
	}
	return updates, nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	updates, err := parseAssignments(args)
	if err != nil {
		return err
	}
	if setLocal {
		err = config.NewLoader(configDir).Update(updates)
	} else {
		err = newAPIClient().UpdateConfig(updates)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Updated %d value(s); the next task will use them.\n", len(updates))
	return nil
}
