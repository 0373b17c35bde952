package minioutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/minio/madmin-go"
	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	minio "github.com/minio/minio/cmd"
	"github.com/stretchr/testify/require"
	"github.com/wkalt/spatialcache/util/testutils"
)

/*
minioutil runs an in-process minio server for tests of the S3 provider.
*/

////////////////////////////////////////////////////////////////////////////////

const (
	accessKeyID     = "minioadmin"
	secretAccessKey = "minioadmin"
	startTimeout    = 10 * time.Second
)

// Server is a running minio server with one bucket created.
type Server struct {
	Client          *mclient.Client
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// Start starts a minio server on a random port with a bucket named bucket.
// The server's storage is removed when the test finishes.
func Start(t *testing.T, bucket string) *Server {
	t.Helper()
	ctx := context.Background()
	port, err := testutils.GetOpenPort()
	require.NoError(t, err)
	addr := fmt.Sprintf("localhost:%d", port)

	madm, err := madmin.New(addr, accessKeyID, secretAccessKey, false)
	require.NoError(t, err)

	tmpdir, err := os.MkdirTemp("", "spatialcache-minio")
	require.NoError(t, err)

	go minio.Main([]string{"minio", "server", "--quiet", "--address", addr, tmpdir})
	deadline := time.Now().Add(startTimeout)
	for {
		if _, err := madm.ServerInfo(ctx); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("minio did not start within %s", startTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}

	mc, err := mclient.New(addr, &mclient.Options{
		Creds: credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
	})
	require.NoError(t, err)
	require.NoError(t, mc.MakeBucket(ctx, bucket, mclient.MakeBucketOptions{}))

	t.Cleanup(func() {
		require.NoError(t, os.RemoveAll(tmpdir))
		// Stopping minio before the test binary exits makes it call os.Exit,
		// so the stop is delayed past the end of the test.
		go func() {
			time.Sleep(5 * time.Second)
			if err := madm.ServiceStop(ctx); err != nil {
				t.Log(err)
			}
		}()
	})
	return &Server{
		Client:          mc,
		Endpoint:        addr,
		Bucket:          bucket,
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
	}
}
