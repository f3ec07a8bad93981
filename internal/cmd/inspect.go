package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/intersection-controller/internal/checkpoint"
	"github.com/danielpatrickdp/intersection-controller/internal/policy"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List or show stored checkpoints",
	Long: `Without --version, list the most recent checkpoints with their tick and
how many cars were admitted or waiting. With --version, show every
intersection's accepted and waiting cars in that checkpoint.`,
	RunE: runInspect,
}

var (
	inspectDB      string
	inspectLast    int
	inspectVersion string
	inspectJSON    bool
)

func init() {
	inspectCmd.Flags().StringVar(&inspectDB, "db", "", "SQLite database (default store.path)")
	inspectCmd.Flags().IntVar(&inspectLast, "last", 20, "show N most recent checkpoints")
	inspectCmd.Flags().StringVar(&inspectVersion, "version", "", "show single checkpoint detail")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON instead of table")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := checkpoint.NewStore(storePath(inspectDB, cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if inspectVersion != "" {
		return runDetailMode(out, store, inspectVersion, inspectJSON)
	}
	return runListMode(out, store, inspectLast, inspectJSON)
}

// #region list-mode

type listRow struct {
	VersionID string `json:"version_id"`
	ParentID  string `json:"parent_id,omitempty"`
	Tick      uint64 `json:"tick"`
	Policies  int    `json:"policies"`
	Accepted  int    `json:"accepted"`
	Waiting   int    `json:"waiting"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

func runListMode(w io.Writer, store *checkpoint.Store, last int, jsonOut bool) error {
	infos, err := store.ListVersions(last)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(w, "no checkpoints found")
		return nil
	}

	// Store returns newest first; print chronologically.
	rows := make([]listRow, len(infos))
	for i, info := range infos {
		rows[len(infos)-1-i] = listRow{
			VersionID: info.VersionID,
			ParentID:  info.ParentID,
			Tick:      uint64(info.Tick),
			Policies:  info.PolicyCount,
			Accepted:  info.Accepted,
			Waiting:   info.Waiting,
			Active:    info.Active,
			CreatedAt: info.CreatedAt.Format("2006-01-02 15:04:05"),
		}
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	fmt.Fprintf(w, "%-38s %8s %8s %8s %8s  %-19s\n", "Version", "Tick", "Isects", "Accepted", "Waiting", "Created")
	for _, r := range rows {
		marker := " "
		if r.Active {
			marker = "*"
		}
		fmt.Fprintf(w, "%s%-37s %8d %8d %8d %8d  %-19s\n",
			marker, r.VersionID, r.Tick, r.Policies, r.Accepted, r.Waiting, r.CreatedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

func runDetailMode(w io.Writer, store *checkpoint.Store, versionID string, jsonOut bool) error {
	cp, err := store.GetVersion(versionID)
	if err != nil {
		return err
	}
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cp)
	}

	fmt.Fprintf(w, "Version:  %s\n", cp.VersionID)
	if cp.ParentID != "" {
		fmt.Fprintf(w, "Parent:   %s\n", cp.ParentID)
	}
	fmt.Fprintf(w, "Tick:     %d (%s)\n", uint64(cp.Tick), cp.Tick.Duration())
	fmt.Fprintf(w, "Created:  %s\n", cp.CreatedAt.Format("2006-01-02 15:04:05"))

	for _, snap := range cp.Policies {
		fmt.Fprintf(w, "\n%s [%s]\n", snap.Intersection, snap.Kind)
		switch snap.Kind {
		case policy.KindStopSign:
			printCars(w, "accepted", snap.StopSign.Accepted, nil)
			printCars(w, "waiting", snap.StopSign.Waiting, snap.StopSign.StartedWaitingAt)
		case policy.KindTrafficSignal:
			printCars(w, "accepted", snap.TrafficSignal.Accepted, nil)
		}
	}
	return nil
}

func printCars(w io.Writer, label string, cars map[sim.CarID]sim.TurnID, since map[sim.CarID]sim.Tick) {
	if len(cars) == 0 {
		fmt.Fprintf(w, "  %-9s (none)\n", label+":")
		return
	}
	ids := make([]sim.CarID, 0, len(cars))
	for id := range cars {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fmt.Fprintf(w, "  %s:\n", label)
	for _, id := range ids {
		extra := ""
		if t, ok := since[id]; ok {
			extra = fmt.Sprintf(" since tick %d", uint64(t))
		}
		fmt.Fprintf(w, "    %-8s %s%s\n", id, cars[id], extra)
	}
}

// #endregion detail-mode
