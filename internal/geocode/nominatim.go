package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// NominatimClient talks to a Nominatim-compatible HTTP endpoint. Lookups
// are bounded by the client timeout; timeouts and upstream errors surface
// as errors for the caller to downgrade to a "no result" outcome.
type NominatimClient struct {
	BaseURL   string
	UserAgent string // Nominatim requires an identifying User-Agent
	Client    *http.Client
}

func NewNominatimClient(baseURL, userAgent string, timeout time.Duration) *NominatimClient {
	return &NominatimClient{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Client:    &http.Client{Timeout: timeout},
	}
}

// Geocode queries /search?q=...&format=json&limit=1 and returns the first
// hit. An empty result set means (zero, false, nil).
func (n *NominatimClient) Geocode(ctx context.Context, address string) (models.Coord, bool, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	var out []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := n.getJSON(ctx, "/search", q, &out); err != nil {
		return models.Coord{}, false, err
	}
	if len(out) == 0 {
		return models.Coord{}, false, nil
	}
	lat, err := strconv.ParseFloat(out[0].Lat, 64)
	if err != nil {
		return models.Coord{}, false, fmt.Errorf("nominatim bad lat %q: %w", out[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(out[0].Lon, 64)
	if err != nil {
		return models.Coord{}, false, fmt.Errorf("nominatim bad lon %q: %w", out[0].Lon, err)
	}
	return models.Coord{Lat: lat, Lon: lon}, true, nil
}

// ReverseGeocode queries /reverse?lat=&lon=&format=json. A response without
// a display_name means (empty, false, nil).
func (n *NominatimClient) ReverseGeocode(ctx context.Context, lat, lon float64) (string, bool, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("format", "json")

	var out struct {
		DisplayName string `json:"display_name"`
	}
	if err := n.getJSON(ctx, "/reverse", q, &out); err != nil {
		return "", false, err
	}
	if out.DisplayName == "" {
		return "", false, nil
	}
	return out.DisplayName, true, nil
}

func (n *NominatimClient) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", n.UserAgent)

	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nominatim status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
