package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/intersection-controller/internal/checkpoint"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <version-id>",
	Short: "Make an earlier checkpoint the active one",
	Long: `Point the active checkpoint at an earlier version. The next "serve --restore"
resumes from it, and later checkpoints branch from it.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

var rollbackDB string

func init() {
	rollbackCmd.Flags().StringVar(&rollbackDB, "db", "", "SQLite database (default store.path)")
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := checkpoint.NewStore(storePath(rollbackDB, cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Rollback(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "active checkpoint: %s\n", args[0])
	return nil
}
