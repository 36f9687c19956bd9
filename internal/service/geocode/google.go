package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// DefaultEndpoint is the Google Maps geocoding API
const DefaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// Client wraps the Google Maps reverse geocoding API
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a reverse geocoding client. Returns nil if the key is
// empty so callers can run without place names.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		// Stay well under the per-second API quota
		limiter: rate.NewLimiter(rate.Limit(10), 5),
	}
}

// WithEndpoint points the client at another server, used in tests
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.endpoint = endpoint
	return c
}

type reverseResponse struct {
	Results []reverseResult `json:"results"`
	Status  string          `json:"status"`
}

type reverseResult struct {
	AddressComponents []addressComponent `json:"address_components"`
	FormattedAddress  string             `json:"formatted_address"`
}

type addressComponent struct {
	LongName string   `json:"long_name"`
	Types    []string `json:"types"`
}

// ReverseGeocode returns a coarse place name (neighborhood, then locality)
// for the coordinates. "" with a nil error means no result.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	q := url.Values{}
	q.Set("latlng", fmt.Sprintf("%f,%f", lat, lng))
	q.Set("result_type", "neighborhood|sublocality|locality")
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocoding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocoding API returned HTTP %d", resp.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return "", nil
	default:
		return "", fmt.Errorf("reverse geocoding failed: status=%s", body.Status)
	}

	return placeName(body.Results), nil
}

func placeName(results []reverseResult) string {
	var locality string
	for _, r := range results {
		for _, comp := range r.AddressComponents {
			for _, t := range comp.Types {
				switch t {
				case "neighborhood", "sublocality":
					return comp.LongName
				case "locality":
					if locality == "" {
						locality = comp.LongName
					}
				}
			}
		}
	}
	if locality != "" {
		return locality
	}
	if len(results) > 0 {
		return results[0].FormattedAddress
	}
	return ""
}
