package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/wkalt/spatialcache/cache"
	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/service"
	"github.com/wkalt/spatialcache/util"
)

var (
	inspectDBPath string
	inspectName   string
	inspectTree   bool
)

var colors = []*color.Color{
	color.New(color.FgRed),
	color.New(color.FgBlue),
	color.New(color.FgYellow),
	color.New(color.FgCyan),
	color.New(color.FgGreen),
	color.New(color.FgMagenta),
	color.New(color.FgWhite),
}

var (
	label  = color.New(color.Bold)
	danger = color.New(color.FgRed, color.Bold)
)

func getColor(depth int) *color.Color {
	return colors[depth%len(colors)]
}

// printStats writes the cache statistics as aligned label/value lines. The
// entry count turns red once the cache is full.
func printStats(w io.Writer, stats cache.Stats, bounds region.Region) {
	row := func(name string, value any) {
		label.Fprintf(w, "%-18s", name+":")
		fmt.Fprintf(w, " %v\n", value)
	}
	label.Fprintf(w, "%-18s ", "entries:")
	c := util.When(stats.Entries >= stats.Capacity, danger, getColor(4))
	c.Fprintf(w, "%d / %d\n", stats.Entries, stats.Capacity)
	row("tree", stats.Tree)
	row("covered regions", stats.CoveredRegions)
	row("tracked leaves", stats.TrackedLeaves)
	row("bounds", bounds)
	row("hits", stats.Hits)
	row("misses", stats.Misses)
	row("fetched features", stats.FetchedFeatures)
	row("evictions", stats.Evictions)
	row("evicted entries", stats.EvictedEntries)
}

// printTree writes one line per node, indented and colored by depth.
func printTree(ctx context.Context, w io.Writer, c *cache.Cache) error {
	return c.Tree().Walk(ctx, func(depth int, id nodestore.NodeID, node nodestore.Node) {
		space := strings.Repeat("  ", depth)
		switch node := node.(type) {
		case *nodestore.InnerNode:
			getColor(depth).Fprintf(w, "%s%s h=%d %s (%d children)\n",
				space, id, node.Height, node.Bounds, len(node.Children))
		case *nodestore.LeafNode:
			getColor(depth).Fprintf(w, "%s%s %s %d entries, %s\n",
				space, id, node.Bounds, len(node.Entries), util.HumanBytes(node.Size()))
		}
	})
}

// inspectLocal opens a persisted cache directly from its rootmap database.
func inspectLocal(ctx context.Context, w io.Writer) error {
	c, closer, err := service.OpenCache(ctx,
		service.WithDatabasePath(inspectDBPath),
		service.WithName(inspectName),
	)
	if err != nil {
		return err
	}
	defer closer(ctx) // nolint:errcheck
	stats, err := c.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}
	bounds, err := c.Bounds(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bounds: %w", err)
	}
	printStats(w, stats, bounds)
	if inspectTree {
		fmt.Fprintln(w)
		return printTree(ctx, w, c)
	}
	return nil
}

func inspectRemote(ctx context.Context, w io.Writer) error {
	cl := newClient()
	stats, err := cl.Stats(ctx)
	if err != nil {
		return err
	}
	bounds, err := cl.Bounds(ctx)
	if err != nil {
		return err
	}
	printStats(w, stats, bounds)
	return nil
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print cache statistics",
	Long: `Inspect prints the statistics of the cache at --server-url. With --db-path
it instead opens a persisted cache directly, which must not be served at the
same time, and can print its tree with --tree.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		w := color.Output
		if inspectDBPath == "" {
			if inspectTree {
				bailf("--tree requires --db-path")
			}
			checkErr(inspectRemote(ctx, w))
			return
		}
		checkErr(inspectLocal(ctx, w))
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVarP(&inspectDBPath, "db-path", "", "", "rootmap database of a persisted cache")
	inspectCmd.Flags().StringVarP(&inspectName, "name", "n", "default", "Cache name in the rootmap")
	inspectCmd.Flags().BoolVarP(&inspectTree, "tree", "", false, "Print the tree structure")
}
