package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/wkalt/spatialcache/cache"
	"github.com/wkalt/spatialcache/feature"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/routes"
	"github.com/wkalt/spatialcache/util/httputil"
)

/*
Package client is a Go client for the spatialcache HTTP API. Non-200
responses are returned as APIError, carrying the server's error message and
detail.
*/

////////////////////////////////////////////////////////////////////////////////

// Client talks to one spatialcache server.
type Client struct {
	serverURL string
	httpc     *http.Client
}

// New returns a client for the server at serverURL. A nil http client uses
// http.DefaultClient.
func New(serverURL string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{
		serverURL: serverURL,
		httpc:     httpc,
	}
}

// GetFeatures returns the features matching filter, fetching misses from the
// server's source. An empty filter returns everything cached.
func (c *Client) GetFeatures(ctx context.Context, filter string) ([]feature.Feature, error) {
	params := url.Values{}
	if filter != "" {
		params.Set("filter", filter)
	}
	resp, err := c.do(ctx, http.MethodGet, "/features", params, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read features: %w", err)
	}
	features, err := feature.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode features: %w", err)
	}
	return features, nil
}

// Put uploads the GeoJSON in r. If register is non-nil, the region is
// registered as covered once the features are inserted.
func (c *Client) Put(ctx context.Context, r io.Reader, register *region.Region) (routes.PutResponse, error) {
	params := url.Values{}
	if register != nil {
		bbox, err := formatBBox(*register)
		if err != nil {
			return routes.PutResponse{}, err
		}
		params.Set("register", bbox)
	}
	response := routes.PutResponse{}
	if err := c.doJSON(ctx, http.MethodPost, "/features", params, r, &response); err != nil {
		return response, err
	}
	return response, nil
}

// Match returns the pieces of r not covered by the cache.
func (c *Client) Match(ctx context.Context, r region.Region) ([]region.Region, error) {
	bbox, err := formatBBox(r)
	if err != nil {
		return nil, err
	}
	response := routes.MatchResponse{}
	if err := c.doJSON(ctx, http.MethodGet, "/match", url.Values{"bbox": {bbox}}, nil, &response); err != nil {
		return nil, err
	}
	return response.Missing, nil
}

// Register marks r as covered.
func (c *Client) Register(ctx context.Context, r region.Region) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode region: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, "/register", nil, bytes.NewReader(body), nil)
}

// Bounds returns the bounding region of the cache's coverage and contents.
func (c *Client) Bounds(ctx context.Context) (region.Region, error) {
	bounds := region.Region{}
	if err := c.doJSON(ctx, http.MethodGet, "/bounds", nil, nil, &bounds); err != nil {
		return bounds, err
	}
	return bounds, nil
}

// Stats returns the cache's statistics.
func (c *Client) Stats(ctx context.Context) (cache.Stats, error) {
	stats := cache.Stats{}
	if err := c.doJSON(ctx, http.MethodGet, "/stats", nil, nil, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

// Clear removes all features and coverage from the cache.
func (c *Client) Clear(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/clear", nil, nil, nil)
}

// Flush persists the cache. It fails if the server's cache is not
// persistent.
func (c *Client) Flush(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/flush", nil, nil, nil)
}

func (c *Client) doJSON(
	ctx context.Context,
	method string,
	path string,
	params url.Values,
	body io.Reader,
	out any,
) error {
	resp, err := c.do(ctx, method, path, params, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// do sends a request and returns the response if its status is 200. The
// caller must close the response body.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	params url.Values,
	body io.Reader,
) (*http.Response, error) {
	target := c.serverURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling %s: %w", path, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()
	response := httputil.ErrorResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, NewAPIError(resp.StatusCode, resp.Status, "")
	}
	return nil, NewAPIError(resp.StatusCode, response.Error, response.Detail)
}

func formatBBox(r region.Region) (string, error) {
	if r.Dim() != 2 {
		return "", fmt.Errorf("bbox requires a two-dimensional region, got %d dimensions", r.Dim())
	}
	return fmt.Sprintf("%g,%g,%g,%g", r.Low[0], r.Low[1], r.High[0], r.High[1]), nil
}
