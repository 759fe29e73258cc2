package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/hammer/am"
	"github.com/teranos/hammer/errors"
)

// ConfigCmd groups configuration subcommands
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect hammer configuration",
	Long: `Inspect hammer configuration.

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (HAMMER_* prefix, e.g. HAMMER_SESSION_DUP_FACTOR)
3. --config FILE, or the merged files below
4. Project config (hammer.toml in the working directory or a parent)
5. User config (~/.hammer/hammer.toml)
6. System config (/etc/hammer/hammer.toml)
7. Default values`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration as TOML",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	ConfigCmd.AddCommand(configShowCmd)
}

// loadConfig honors the global --config flag
func loadConfig(cmd *cobra.Command) (*am.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return am.LoadFromFile(path)
	}
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	return cfg, nil
}

// LogJSON reports whether logs should be JSON: the --json-logs flag when given,
// otherwise log.json from the same config loadConfig resolves
func LogJSON(cmd *cobra.Command) (bool, error) {
	if cmd.Flags().Changed("json-logs") {
		return cmd.Flags().GetBool("json-logs")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return false, err
	}
	return cfg.Log.JSON, nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	data, err := am.Marshal(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# hammer configuration")
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		fmt.Fprintf(out, "# from %s\n", path)
	} else {
		for _, f := range am.MergedFiles() {
			fmt.Fprintf(out, "# merged %s\n", f)
		}
	}
	fmt.Fprint(out, string(data))
	return nil
}
