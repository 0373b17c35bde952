package routes

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/wkalt/spatialcache/cache"
	"github.com/wkalt/spatialcache/feature"
	"github.com/wkalt/spatialcache/filter"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/util/httputil"
	"github.com/wkalt/spatialcache/util/log"
)

// PutResponse is the response to a feature upload.
type PutResponse struct {
	Inserted   int  `json:"inserted"`
	Registered bool `json:"registered"`
}

// filterText builds a filter from the bbox and filter parameters. Both may
// be given, in which case the result matches features satisfying both.
func filterText(r *http.Request) (string, error) {
	query := r.URL.Query()
	text := query.Get("filter")
	bbox := query.Get("bbox")
	if bbox == "" {
		return text, nil
	}
	b, err := ParseBBox(bbox)
	if err != nil {
		return "", err
	}
	clause := fmt.Sprintf("BBOX(%g, %g, %g, %g)", b.Low[0], b.Low[1], b.High[0], b.High[1])
	if text == "" {
		return clause, nil
	}
	return clause + " AND (" + text + ")", nil
}

func newGetFeaturesHandler(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		text, err := filterText(r)
		if err != nil {
			httputil.BadRequest(ctx, w, "%s", err)
			return
		}
		log.Infow(ctx, "features request", "filter", text)
		features, err := c.GetFeatures(ctx, text)
		if err != nil {
			switch {
			case errors.Is(err, filter.ParseError{}):
				httputil.BadRequest(ctx, w, "%s", err)
			case errors.Is(err, cache.OversizeError{}):
				httputil.RequestEntityTooLarge(ctx, w, "%w", err)
			case errors.Is(err, cache.ErrNoSource):
				httputil.NotFound(ctx, w, "region not cached: %s", err)
			default:
				httputil.InternalServerError(ctx, w, "failed to get features: %s", err)
			}
			return
		}
		httputil.WriteJSON(ctx, w, feature.NewFeatureCollection(features))
	}
}

func newPutFeaturesHandler(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		defer r.Body.Close()
		var register region.Region
		if bbox := r.URL.Query().Get("register"); bbox != "" {
			b, err := ParseBBox(bbox)
			if err != nil {
				httputil.BadRequest(ctx, w, "invalid register parameter: %s", err)
				return
			}
			register = b
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPutBytes))
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				httputil.RequestEntityTooLarge(ctx, w, "request body exceeds %d bytes", maxBytesErr.Limit)
				return
			}
			httputil.BadRequest(ctx, w, "error reading request: %s", err)
			return
		}
		features, err := feature.Decode(body)
		if err != nil {
			httputil.BadRequest(ctx, w, "%s", err)
			return
		}
		log.Infow(ctx, "put request", "features", len(features), "register", register)
		if register.IsEmpty() {
			err = c.Put(ctx, features)
		} else {
			err = c.PutAndRegister(ctx, features, register)
		}
		if err != nil {
			switch {
			case errors.Is(err, cache.OversizeError{}):
				httputil.RequestEntityTooLarge(ctx, w, "%w", err)
			case errors.Is(err, feature.ErrInvalidFeature), errors.Is(err, region.ErrInvalidRegion):
				httputil.BadRequest(ctx, w, "%s", err)
			default:
				httputil.InternalServerError(ctx, w, "failed to put features: %s", err)
			}
			return
		}
		httputil.WriteJSON(ctx, w, PutResponse{Inserted: len(features), Registered: !register.IsEmpty()})
	}
}
