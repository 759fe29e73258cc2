package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/hammer/cmd/hammer/commands"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/logger"
)

var rootCmd = &cobra.Command{
	Use:   "hammer",
	Short: "hammer - bitstream fuzzer for FPGA configuration images",
	Long: `hammer - recover FPGA configuration bit meanings by differential fuzzing.

hammer builds many small variations of a baseline design through the vendor
toolchain, diffs the resulting configuration images and classifies the
changed bits into a tile database.

Available commands:
  run     - Fuzz the parts of a plan and merge the result into a tile database
  dump    - Print a tile database as YAML
  merge   - Merge tile databases
  config  - Show the effective configuration
  version - Show version information

Examples:
  hammer run "wrap-ise --family spartan2" spartan2.hdb --plan spartan2.yaml
  hammer run ./wrap.sh virtex2.hdb 'xc2v1*' --plan virtex2.yaml --no-dup
  hammer dump spartan2.hdb spartan2.yaml
  hammer merge all.hdb spartan2.hdb virtex2.hdb`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, err := commands.LogJSON(cmd)
		if err != nil {
			return err
		}
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: merged /etc/hammer, ~/.hammer and project hammer.toml)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs on stderr")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.DumpCmd)
	rootCmd.AddCommand(commands.MergeCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

// reportError prints err with its failure kind, details and hints
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error (%s): %v\n", errors.Kind(err), err)
	if details := errors.FlattenDetails(err); details != "" {
		fmt.Fprintf(w, "\n%s\n", details)
	}
	if hints := errors.FlattenHints(err); hints != "" {
		fmt.Fprintf(w, "\nHint: %s\n", hints)
	}
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		reportError(os.Stderr, err)
		logger.Cleanup()
		os.Exit(1)
	}
}
