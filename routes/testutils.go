package routes

import (
	"net/http/httptest"
	"testing"

	"github.com/wkalt/spatialcache/cache"
)

// MakeTestRoutes serves the routes for c from a test server. It returns the
// server's URL and a function that stops it.
func MakeTestRoutes(t *testing.T, c *cache.Cache) (string, func()) {
	t.Helper()
	srv := httptest.NewServer(MakeRoutes(c, []string{"*"}))
	return srv.URL, srv.Close
}
