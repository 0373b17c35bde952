package routes

import (
	"errors"
	"net/http"

	"github.com/wkalt/spatialcache/cache"
	"github.com/wkalt/spatialcache/util/httputil"
	"github.com/wkalt/spatialcache/util/log"
)

func newBoundsHandler(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bounds, err := c.Bounds(ctx)
		if err != nil {
			httputil.InternalServerError(ctx, w, "failed to get bounds: %s", err)
			return
		}
		httputil.WriteJSON(ctx, w, bounds)
	}
}

func newStatsHandler(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		stats, err := c.Stats(ctx)
		if err != nil {
			httputil.InternalServerError(ctx, w, "failed to get statistics: %s", err)
			return
		}
		httputil.WriteJSON(ctx, w, stats)
	}
}

func newClearHandler(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log.Infow(ctx, "clear request")
		if err := c.Clear(ctx); err != nil {
			httputil.InternalServerError(ctx, w, "failed to clear cache: %s", err)
			return
		}
	}
}

func newFlushHandler(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log.Infow(ctx, "flush request")
		if err := c.Flush(ctx); err != nil {
			if errors.Is(err, cache.ErrNoRootmap) {
				httputil.BadRequest(ctx, w, "cache is not persistent")
				return
			}
			httputil.InternalServerError(ctx, w, "failed to flush cache: %s", err)
			return
		}
	}
}
