package routes

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/wkalt/spatialcache/cache"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/util/httputil"
	"github.com/wkalt/spatialcache/util/log"
)

// MatchResponse lists the uncovered pieces of a region.
type MatchResponse struct {
	Missing []region.Region `json:"missing"`
}

func newMatchHandler(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bbox := r.URL.Query().Get("bbox")
		if bbox == "" {
			httputil.BadRequest(ctx, w, "missing bbox")
			return
		}
		q, err := ParseBBox(bbox)
		if err != nil {
			httputil.BadRequest(ctx, w, "%s", err)
			return
		}
		missing := c.Match(q)
		log.Debugw(ctx, "match request", "region", q, "missing", len(missing))
		httputil.WriteJSON(ctx, w, MatchResponse{Missing: missing})
	}
}

func newRegisterHandler(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		defer r.Body.Close()
		req := region.Region{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(ctx, w, "error decoding request: %s", err)
			return
		}
		if err := req.Validate(c.Tree().Dims()); err != nil {
			httputil.BadRequest(ctx, w, "invalid region: %s", err)
			return
		}
		log.Infow(ctx, "register request", "region", req)
		c.Register(req)
	}
}
