package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/wkalt/spatialcache/client"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/routes"
	"github.com/wkalt/spatialcache/util"
)

const (
	prompt             = "spatialcache # "
	continuationPrompt = "... # "
	artwork            = `
 ___ _ __   __ _| |_(_) __ _| | ___ __ _  ___| |__   ___
/ __| '_ \ / _` + "`" + ` | __| |/ _` + "`" + ` | |/ __/ _` + "`" + ` |/ __| '_ \ / _ \
\__ \ |_) | (_| | |_| | (_| | | (_| (_| | (__| | | |  __/
|___/ .__/ \__,_|\__|_|\__,_|_|\___\__,_|\___|_| |_|\___|
    |_|
`
)

func printError(s string) {
	fmt.Println("ERROR: " + s)
}

// shellCommand handles one backslash command. args excludes the command.
type shellCommand func(ctx context.Context, cl *client.Client, args []string) error

var shellCommands = map[string]shellCommand{
	"match": func(ctx context.Context, cl *client.Client, args []string) error {
		r, err := bboxArg(args)
		if err != nil {
			return err
		}
		missing, err := cl.Match(ctx, r)
		if err != nil {
			return err
		}
		if len(missing) == 0 {
			fmt.Println("covered")
			return nil
		}
		for _, piece := range missing {
			fmt.Println(piece)
		}
		return nil
	},
	"register": func(ctx context.Context, cl *client.Client, args []string) error {
		r, err := bboxArg(args)
		if err != nil {
			return err
		}
		return cl.Register(ctx, r)
	},
	"stats": func(ctx context.Context, cl *client.Client, _ []string) error {
		stats, err := cl.Stats(ctx)
		if err != nil {
			return err
		}
		bounds, err := cl.Bounds(ctx)
		if err != nil {
			return err
		}
		printStats(color.Output, stats, bounds)
		return nil
	},
	"load": func(ctx context.Context, cl *client.Client, args []string) error {
		if len(args) == 0 {
			return errors.New("not enough arguments")
		}
		paths, err := expandPatterns(args)
		if err != nil {
			return err
		}
		inserted, err := doLoad(ctx, cl, paths, nil, max(runtime.NumCPU()/2, 1))
		if err != nil {
			return err
		}
		fmt.Printf("loaded %d features from %d files\n", inserted, len(paths))
		return nil
	},
	"clear": func(ctx context.Context, cl *client.Client, _ []string) error {
		return cl.Clear(ctx)
	},
	"flush": func(ctx context.Context, cl *client.Client, _ []string) error {
		return cl.Flush(ctx)
	},
}

func bboxArg(args []string) (region.Region, error) {
	if len(args) != 1 {
		return region.Region{}, errors.New("expected one bbox argument: minx,miny,maxx,maxy")
	}
	return routes.ParseBBox(args[0])
}

func executeQuery(ctx context.Context, cl *client.Client, filter string) error {
	features, err := cl.GetFeatures(ctx, filter)
	if err != nil {
		return err
	}
	return withPaging(maybePager(), func(w io.WriteCloser) error {
		defer w.Close()
		return writeFeatures(w, features, false)
	})
}

// handleCommand runs a backslash command line such as "\match 0,0,1,1".
func handleCommand(ctx context.Context, cl *client.Client, line string) error {
	fields := strings.Fields(strings.TrimPrefix(line, "\\"))
	if len(fields) == 0 {
		return errors.New("empty command")
	}
	if fields[0] == "h" {
		topic := ""
		if len(fields) > 1 {
			topic = fields[1]
		}
		text, ok := help[topic]
		if !ok {
			return fmt.Errorf("no help topic %q; topics are %s", topic, strings.Join(util.Okeys(help), ", "))
		}
		fmt.Println(text)
		return nil
	}
	command, ok := shellCommands[fields[0]]
	if !ok {
		return fmt.Errorf("unrecognized command: %s", line)
	}
	return command(ctx, cl, fields[1:])
}

func run(ctx context.Context) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     "/tmp/spatialcache-history.tmp",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	fmt.Print(artwork)
	fmt.Println(`Type "help" for help.`)
	fmt.Println()
	defer l.Close()
	l.CaptureExitSignal()
	log.SetOutput(l.Stderr())

	cl := newClient()
	lines := []string{}
	for {
		line, err := l.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				lines = lines[:0]
				l.SetPrompt(prompt)
				continue
			}
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "":
			continue
		case line == "help":
			fmt.Println(help[""])
			continue
		case strings.HasPrefix(line, "\\"):
			if err := handleCommand(ctx, cl, line); err != nil {
				printError(err.Error())
			}
			continue
		}

		lines = append(lines, line)
		if !strings.HasSuffix(line, ";") {
			l.SetPrompt(continuationPrompt)
			continue
		}
		query := strings.Join(lines, " ")
		lines = lines[:0]
		l.SetPrompt(prompt)
		_ = l.SaveHistory(query)
		if err := executeQuery(ctx, cl, strings.TrimSuffix(query, ";")); err != nil {
			apiErr := client.APIError{}
			if errors.As(err, &apiErr) && apiErr.Detail() != "" {
				printError(err.Error() + "\n" + apiErr.Detail())
				continue
			}
			printError(err.Error())
		}
	}
	return nil
}

var help = map[string]string{
	"": `The spatialcache shell is an interactive client for a spatialcache server.

The shell supports interaction via either filters or slash commands. The
supported slash commands are:

  \h [topic] to print help text. If topic is blank, prints this text.
  \match bbox to list the parts of a bbox the cache does not cover
  \register bbox to mark a bbox as covered
  \load pattern... to upload GeoJSON files
  \stats to print cache statistics
  \clear to empty the cache
  \flush to persist the cache

Available help topics are:
  filter: Show examples of filter syntax.
  coverage: Explain \match and \register.

Any input aside from "help" that does not start with a backslash is interpreted
as a filter. Filters are terminated with a semicolon.`,

	"filter": `Filters select features by their bounding boxes. Any part of the
filter's region the cache does not cover is fetched from the server's source
before the filter is answered. Filters can span multiple lines and are
terminated with a semicolon.

Features intersecting a bbox (minx, miny, maxx, maxy):
    BBOX(-122.5, 37.7, -122.3, 37.8);

Features intersecting or within an envelope (west, east, north, south):
    INTERSECTS(ENVELOPE(0, 10, 10, 0));
    WITHIN(geom, ENVELOPE(0, 10, 10, 0));

Combinations:
    BBOX(0, 0, 1, 1) OR (BBOX(5, 5, 9, 9) AND WITHIN(ENVELOPE(4, 10, 10, 4)));

Everything cached, without fetching:
    INCLUDE;`,

	"coverage": `The cache tracks which regions it holds completely. A registered
region asserts that every feature intersecting it is cached; queries inside it
are answered without contacting the source.

  \match minx,miny,maxx,maxy
prints the pieces of the bbox that are not covered, or "covered".

  \register minx,miny,maxx,maxy
marks the bbox as covered. Evicting features invalidates the coverage of the
evicted leaf's bounds.`,
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "spatialcache interactive client",
	Run: func(cmd *cobra.Command, args []string) {
		if err := run(cmd.Context()); err != nil {
			fmt.Println("error running shell:", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}
