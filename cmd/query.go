package cmd

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/wkalt/spatialcache/feature"
)

var (
	queryIDs bool
)

// writeFeatures writes features as a GeoJSON collection, or one ID per line.
func writeFeatures(w io.Writer, features []feature.Feature, idsOnly bool) error {
	if idsOnly {
		for _, f := range features {
			if _, err := fmt.Fprintln(w, f.ID); err != nil {
				return fmt.Errorf("failed to write feature: %w", err)
			}
		}
		return nil
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(feature.NewFeatureCollection(features)); err != nil {
		return fmt.Errorf("failed to write features: %w", err)
	}
	return nil
}

var queryCmd = &cobra.Command{
	Use:   "query [single-quoted filter]",
	Short: "Query the cache",
	Long: `Query returns the features matching a filter, fetching any uncovered
part of it from the server's source. With no filter, query returns everything
cached. For example:

  spatialcache query 'BBOX(-122.5, 37.7, -122.3, 37.8)'
  spatialcache query 'WITHIN(ENVELOPE(0, 10, 10, 0)) OR BBOX(20, 20, 30, 30)'`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) > 1 {
			bailf("query takes at most one single-quoted filter")
		}
		filter := ""
		if len(args) == 1 {
			filter = args[0]
		}
		features, err := newClient().GetFeatures(cmd.Context(), filter)
		checkErr(err)
		checkErr(withPaging(maybePager(), func(w io.WriteCloser) error {
			defer w.Close()
			return writeFeatures(w, features, queryIDs)
		}))
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().BoolVarP(&queryIDs, "ids", "", false, "Print only feature IDs")
}
