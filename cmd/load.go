package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"github.com/wkalt/spatialcache/client"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/routes"
	"golang.org/x/sync/errgroup"
)

var (
	loadRegister string
	loadWorkers  int
)

// expandPatterns returns the files matching any of the glob patterns. A
// pattern matching nothing is an error.
func expandPatterns(patterns []string) ([]string, error) {
	paths := []string{}
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("error globbing %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files found matching %s", pattern)
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

// doLoad uploads each file, then registers the region if one is supplied.
// The region is registered only once every upload has succeeded, and only if
// the cache evicted nothing meanwhile; an eviction may have dropped uploaded
// features the region would claim.
func doLoad(
	ctx context.Context,
	cl *client.Client,
	paths []string,
	register *region.Region,
	workers int,
) (int, error) {
	var evictions int64
	if register != nil {
		stats, err := cl.Stats(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to get cache statistics: %w", err)
		}
		evictions = stats.Evictions
	}
	inserted := atomic.Int64{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range paths {
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer f.Close()
			resp, err := cl.Put(gctx, f, nil)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", path, err)
			}
			inserted.Add(int64(resp.Inserted))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(inserted.Load()), err
	}
	if register == nil {
		return int(inserted.Load()), nil
	}
	stats, err := cl.Stats(ctx)
	if err != nil {
		return int(inserted.Load()), fmt.Errorf("failed to get cache statistics: %w", err)
	}
	if stats.Evictions != evictions {
		return int(inserted.Load()), fmt.Errorf(
			"cache evicted %d leaves during the load; not registering %s", stats.Evictions-evictions, register,
		)
	}
	if err := cl.Register(ctx, *register); err != nil {
		return int(inserted.Load()), fmt.Errorf("failed to register %s: %w", register, err)
	}
	return int(inserted.Load()), nil
}

var loadCmd = &cobra.Command{
	Use:   "load [file pattern...]",
	Short: "Load GeoJSON files into the cache",
	Long: `Load uploads GeoJSON files to the server. Patterns may use ** to match
nested directories. If --register is supplied, the bbox is registered as
covered after every file has loaded; the caller asserts that the files hold
all features intersecting it. Nothing is registered if the cache evicted
entries during the load.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			bailf("load requires at least one file pattern")
		}
		var register *region.Region
		if loadRegister != "" {
			r, err := routes.ParseBBox(loadRegister)
			checkErr(err)
			register = &r
		}
		paths, err := expandPatterns(args)
		checkErr(err)
		inserted, err := doLoad(cmd.Context(), newClient(), paths, register, loadWorkers)
		checkErr(err)
		fmt.Printf("loaded %d features from %d files\n", inserted, len(paths))
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
	loadCmd.Flags().StringVarP(&loadRegister, "register", "r", "", "bbox to register as covered: minx,miny,maxx,maxy")
	loadCmd.Flags().IntVarP(&loadWorkers, "workers", "w", max(runtime.NumCPU()/2, 1), "Concurrent uploads")
}
