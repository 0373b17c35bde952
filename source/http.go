package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/wkalt/spatialcache/feature"
	"github.com/wkalt/spatialcache/region"
)

// HTTP fetches features from a server exposing a GeoJSON endpoint that
// accepts a bbox query parameter, such as another cache's /features route.
type HTTP struct {
	endpoint string
	httpc    *http.Client
}

// NewHTTP returns a source that queries endpoint. A nil client uses
// http.DefaultClient.
func NewHTTP(endpoint string, httpc *http.Client) *HTTP {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &HTTP{endpoint: endpoint, httpc: httpc}
}

// Fetch requests the features intersecting r.
func (h *HTTP) Fetch(ctx context.Context, r region.Region) ([]feature.Feature, error) {
	if r.Dim() != 2 {
		return nil, fmt.Errorf("http source supports two dimensions, got %d", r.Dim())
	}
	u, err := url.Parse(h.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	params := u.Query()
	params.Set("bbox", fmt.Sprintf("%g,%g,%g,%g", r.Low[0], r.Low[1], r.High[0], r.High[1]))
	u.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")
	resp, err := h.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling %s: %w", h.endpoint, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, body)
	}
	features, err := feature.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return features, nil
}
