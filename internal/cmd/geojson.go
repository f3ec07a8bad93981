package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var geojsonCmd = &cobra.Command{
	Use:   "geojson <map-fixture>",
	Short: "Export turn geometry as GeoJSON",
	Long: `Write every turn of a map fixture as a GeoJSON LineString feature with
turn_id, intersection_id and length properties.`,
	Args: cobra.ExactArgs(1),
	RunE: runGeoJSON,
}

var geojsonOut string

func init() {
	geojsonCmd.Flags().StringVarP(&geojsonOut, "out", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(geojsonCmd)
}

func runGeoJSON(cmd *cobra.Command, args []string) error {
	_, g, _, err := loadMap(args[0])
	if err != nil {
		return err
	}
	data, err := g.GeoJSON()
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	if geojsonOut == "" {
		_, err = cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(geojsonOut, data, 0644)
}
