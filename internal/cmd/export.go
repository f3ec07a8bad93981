package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/intersection-controller/internal/checkpoint"
	"github.com/danielpatrickdp/intersection-controller/internal/logging"
	"github.com/danielpatrickdp/intersection-controller/internal/replay"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a decision log as a replay fixture",
	Long: `Combine the map of an existing fixture with the decision log of a served
database into a new replay fixture. The logged request outcomes become the
fixture's expected results, so replaying it checks for drift.`,
	RunE: runExport,
}

var (
	exportDB          string
	exportMap         string
	exportOut         string
	exportDescription string
)

func init() {
	exportCmd.Flags().StringVar(&exportDB, "db", "", "SQLite database (default store.path)")
	exportCmd.Flags().StringVar(&exportMap, "map", "", "fixture holding the map (required)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output fixture path (required)")
	exportCmd.Flags().StringVar(&exportDescription, "description", "", "fixture description")
	_ = exportCmd.MarkFlagRequired("map")
	_ = exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	base, err := replay.LoadFixture(exportMap)
	if err != nil {
		return err
	}

	path := storePath(exportDB, cfg)
	store, err := checkpoint.NewStore(path)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := logging.EnsureDecisionTable(store.DB()); err != nil {
		return err
	}
	entries, err := logging.ListDecisions(store.DB())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no decisions found in %s", path)
	}

	desc := exportDescription
	if desc == "" {
		desc = "exported from " + path
	}
	f := base.FromDecisions(desc, entries)
	f.Config = replay.FixtureConfig{
		StopDwellSeconds: cfg.Policy.StopDwell.Seconds(),
		SpeedLimit:       cfg.Policy.SpeedLimit,
		Parallelism:      cfg.Arbiter.Parallelism,
	}
	if err := f.Save(exportOut); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d events, %d expected results to %s\n",
		len(f.Events), len(f.ExpectedResults), exportOut)
	return nil
}
