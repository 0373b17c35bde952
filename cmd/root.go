package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/wkalt/spatialcache/client"
)

/*
Command line entrypoints. Every command except serve and inspect --db-path is
a client of a running server at --server-url.

Flags may also be supplied through the environment as SPATIALCACHE_<FLAG>,
with dashes replaced by underscores, or through a dotenv file. Explicit flags
take precedence.
*/

////////////////////////////////////////////////////////////////////////////////

const envPrefix = "SPATIALCACHE_"

var (
	serverURL string
	envFile   string
)

var rootCmd = &cobra.Command{
	Use:   "spatialcache",
	Short: "spatialcache client and server",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		return bindEnv(cmd)
	},
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// bindEnv sets every flag the user did not pass from its environment
// variable, if present.
func bindEnv(cmd *cobra.Command) error {
	var errs []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		name := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		value, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		if err := f.Value.Set(value); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
		}
	})
	return errors.Join(errs...)
}

func newClient() *client.Client {
	return client.New(serverURL, &http.Client{Timeout: 5 * time.Minute})
}

func bailf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func checkErr(err error) {
	if err == nil {
		return
	}
	apiErr := client.APIError{}
	if errors.As(err, &apiErr) && apiErr.Detail() != "" {
		bailf("error: %v\n%s", err, apiErr.Detail())
	}
	bailf("error: %v", err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server-url", "", "http://localhost:8089", "server URL")
	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "", ".env", "dotenv file to read flag defaults from")
}
