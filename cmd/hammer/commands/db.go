package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/logger"
	"github.com/teranos/hammer/tiledb"
)

// DumpCmd prints a tile database as YAML
var DumpCmd = &cobra.Command{
	Use:   "dump DB [OUT]",
	Short: "Print a tile database as YAML",
	Long: `Decode a tile database and write its YAML dump to OUT, or stdout.

Examples:
  hammer dump spartan2.hdb                 # Print to stdout
  hammer dump spartan2.hdb spartan2.yaml   # Write to a file`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDump,
}

// MergeCmd folds tile databases into one
var MergeCmd = &cobra.Command{
	Use:   "merge OUT IN...",
	Short: "Merge tile databases",
	Long: `Merge every IN database into OUT. OUT is loaded first when it exists.

Items present in several inputs must agree exactly; a disagreement fails the
merge with DuplicateKeyMismatch and leaves OUT untouched.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runMerge,
}

func runDump(cmd *cobra.Command, args []string) error {
	db, err := tiledb.Load(args[0])
	if err != nil {
		return err
	}
	if len(args) == 2 {
		if err := tiledb.SaveDump(args[1], db); err != nil {
			return err
		}
		logger.ComponentLogger("dump").Infow("Wrote dump",
			logger.FieldFile, args[1],
			logger.FieldCount, db.Len())
		return nil
	}

	data, err := tiledb.Dump(db)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runMerge(cmd *cobra.Command, args []string) error {
	log := logger.ComponentLogger("merge")
	out := args[0]

	db, err := tiledb.LoadOrNew(out)
	if err != nil {
		return err
	}
	for _, in := range args[1:] {
		other, err := tiledb.Load(in)
		if err != nil {
			return err
		}
		if err := db.Merge(other); err != nil {
			return errors.Wrapf(err, "merging %s", in)
		}
		log.Debugw("Merged", logger.FieldFile, in, logger.FieldCount, other.Len())
	}

	if err := tiledb.Save(out, db); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d items from %d inputs\n", out, db.Len(), len(args)-1)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
