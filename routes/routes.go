package routes

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/wkalt/spatialcache/cache"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/util/mw"
)

/*
Package routes exposes a feature cache over HTTP. Reads accept either a bbox
parameter or a filter in the cache's filter language, and return GeoJSON
feature collections. The remaining routes inspect and manage the cache.
*/

////////////////////////////////////////////////////////////////////////////////

// maxPutBytes bounds the body of a feature upload.
const maxPutBytes = 256 * 1024 * 1024

// MakeRoutes returns the handler for a cache. Cross-origin requests are
// allowed from allowedOrigins.
func MakeRoutes(c *cache.Cache, allowedOrigins []string) http.Handler {
	m := newMetrics(c)
	r := mux.NewRouter()
	r.Use(mw.WithRequestID, mw.WithRequestLogging, mw.WithCORSAllowedOrigins(allowedOrigins), m.instrument)
	r.HandleFunc("/features", newGetFeaturesHandler(c)).Methods("GET")
	r.HandleFunc("/features", newPutFeaturesHandler(c)).Methods("POST")
	r.HandleFunc("/match", newMatchHandler(c)).Methods("GET")
	r.HandleFunc("/register", newRegisterHandler(c)).Methods("POST")
	r.HandleFunc("/bounds", newBoundsHandler(c)).Methods("GET")
	r.HandleFunc("/stats", newStatsHandler(c)).Methods("GET")
	r.HandleFunc("/clear", newClearHandler(c)).Methods("POST")
	r.HandleFunc("/flush", newFlushHandler(c)).Methods("POST")
	r.Handle("/metrics", m.handler()).Methods("GET")
	return r
}

// ParseBBox parses a bbox of the form minx,miny,maxx,maxy.
func ParseBBox(s string) (region.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return region.Region{}, fmt.Errorf("bbox must have four comma-separated values, got %q", s)
	}
	values := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return region.Region{}, fmt.Errorf("invalid bbox value %q", part)
		}
		values[i] = v
	}
	r, err := region.New(values[:2], values[2:])
	if err != nil {
		return region.Region{}, fmt.Errorf("invalid bbox: %w", err)
	}
	return r, nil
}
