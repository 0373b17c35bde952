package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/wkalt/spatialcache/cache"
	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/service"
	"github.com/wkalt/spatialcache/util/log"
)

var (
	servePort         int
	serveLogLevel     string
	serveName         string
	serveCapacity     int
	serveDims         int
	serveFetchWorkers int
	serveDBPath       string
	serveStorageKind  string
	serveCacheMB      int
	serveSources      []string
	serveSourceURL    string
	serveOrigins      []string
	servePprofAddr    string

	// Directory storage provider options
	serveDataDir string

	// S3 storage provider options
	serveS3Endpoint  string
	serveS3AccessKey string
	serveS3SecretKey string
	serveS3Bucket    string
	serveS3UseTLS    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the spatialcache server",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		level, err := log.ParseLevel(serveLogLevel)
		if err != nil {
			bailf("%s", err)
		}
		props, err := storageProperties()
		if err != nil {
			bailf("%s", err)
		}
		opts := []service.Option{
			service.WithPort(servePort),
			service.WithLogLevel(level),
			service.WithName(serveName),
			service.WithCapacity(serveCapacity),
			service.WithDims(serveDims),
			service.WithFetchWorkers(serveFetchWorkers),
			service.WithDatabasePath(serveDBPath),
			service.WithStorage(props),
			service.WithSourcePatterns(serveSources...),
			service.WithSourceURL(serveSourceURL),
			service.WithPprofAddr(servePprofAddr),
		}
		if len(serveOrigins) > 0 {
			opts = append(opts, service.WithAllowedOrigins(serveOrigins))
		}
		if err := service.NewService().Start(ctx, opts...); err != nil {
			bailf("Shutdown error: %s", err)
		}
	},
}

// storageProperties describes the node storage selected by the storage
// flags.
func storageProperties() (nodestore.PropertySet, error) {
	props := nodestore.PropertySet{
		Kind:       nodestore.Kind(serveStorageKind),
		CacheBytes: uint64(serveCacheMB) * 1024 * 1024,
	}
	s3requested := serveS3Endpoint != "" ||
		serveS3AccessKey != "" ||
		serveS3SecretKey != "" ||
		serveS3Bucket != ""
	switch props.Kind {
	case nodestore.KindMemory:
		if serveDataDir != "" || s3requested {
			return props, errors.New("memory storage does not take --data-dir or S3 options")
		}
		return props, nil
	case nodestore.KindDisk, nodestore.KindBufferedDisk:
	default:
		return props, errors.New("storage must be one of memory, disk or buffered")
	}
	if serveDataDir != "" && s3requested {
		return props, errors.New("cannot specify both --data-dir and S3 options")
	}
	if serveDataDir == "" && !s3requested {
		return props, errors.New("disk storage requires either --data-dir or S3 options")
	}
	if serveDataDir != "" {
		props.Provider = nodestore.ProviderConfig{
			Type:      nodestore.ProviderDirectory,
			Directory: serveDataDir,
		}
		return props, nil
	}
	props.Provider = nodestore.ProviderConfig{
		Type:            nodestore.ProviderS3,
		Endpoint:        serveS3Endpoint,
		Bucket:          serveS3Bucket,
		AccessKeyID:     serveS3AccessKey,
		SecretAccessKey: serveS3SecretKey,
		Secure:          serveS3UseTLS,
	}
	return props, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.PersistentFlags().IntVarP(&servePort, "port", "p", 8089, "Port to listen on")
	serveCmd.PersistentFlags().StringVarP(&serveLogLevel, "log-level", "l", "info", "Log level")
	serveCmd.PersistentFlags().StringVarP(&serveName, "name", "n", "default", "Cache name in the rootmap")
	serveCmd.PersistentFlags().IntVarP(&serveCapacity, "capacity", "c", cache.DefaultCapacity, "Maximum cached features")
	serveCmd.PersistentFlags().IntVarP(&serveDims, "dims", "", 2, "Dimensionality of a new cache")
	serveCmd.PersistentFlags().IntVarP(&serveFetchWorkers, "fetch-workers", "", 8, "Concurrent source fetches per request")
	serveCmd.PersistentFlags().StringVarP(&serveDBPath, "db-path", "", "", "rootmap database location; empty for an ephemeral cache")
	serveCmd.PersistentFlags().StringVarP(&serveStorageKind, "storage", "s", "memory", "Node storage: memory, disk or buffered")
	serveCmd.PersistentFlags().IntVarP(&serveCacheMB, "node-cache-size", "", 64, "Node read cache size in megabytes")
	serveCmd.PersistentFlags().StringSliceVarP(&serveSources, "source", "", []string{}, "GeoJSON files to serve misses from (globs)")
	serveCmd.PersistentFlags().StringVarP(&serveSourceURL, "source-url", "", "", "GeoJSON endpoint to serve misses from")
	serveCmd.PersistentFlags().StringSliceVarP(&serveOrigins, "allowed-origins", "o", []string{}, "Allowed origins")
	serveCmd.PersistentFlags().StringVarP(&servePprofAddr, "pprof-addr", "", "", "Address to serve pprof on")

	serveCmd.PersistentFlags().StringVarP(&serveDataDir, "data-dir", "d", "", "Data directory (for directory storage)")

	serveCmd.PersistentFlags().StringVar(&serveS3Endpoint, "s3-endpoint", "", "S3 endpoint (for S3 storage)")
	serveCmd.PersistentFlags().StringVar(&serveS3AccessKey, "s3-access-key-id", "", "S3 access key ID (for S3 storage)")
	serveCmd.PersistentFlags().StringVar(&serveS3SecretKey, "s3-secret-key", "", "S3 secret key (for S3 storage)")
	serveCmd.PersistentFlags().StringVar(&serveS3Bucket, "s3-bucket", "", "S3 bucket (for S3 storage)")
	serveCmd.PersistentFlags().BoolVarP(&serveS3UseTLS, "s3-tls", "t", false, "Use TLS (for S3 storage)")
}
