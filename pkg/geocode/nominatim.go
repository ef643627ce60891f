package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single Nominatim request.
const DefaultTimeout = 3 * time.Second

// Nominatim queries an OpenStreetMap Nominatim search endpoint.
type Nominatim struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewNominatim creates a client for baseURL, e.g. https://nominatim.openstreetmap.org.
// Nominatim's usage policy requires an identifying user agent.
func NewNominatim(baseURL, userAgent string, timeout time.Duration, logger *zap.Logger) *Nominatim {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Nominatim{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("nominatim"),
	}
}

var _ Geocoder = (*Nominatim)(nil)

type nominatimPlace struct {
	PlaceID     int64  `json:"place_id"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	AddressType string `json:"addresstype"`
}

// Geocode returns true when the search yields at least one place.
// Timeouts, transport failures and 5xx/429 responses return ErrUnavailable.
func (n *Nominatim) Geocode(ctx context.Context, query string) (bool, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	params.Set("addressdetails", "1")
	endpoint := n.baseURL + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		// Client timeouts and dial errors alike.
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		n.logger.Warn("Nominatim returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return false, fmt.Errorf("nominatim returned status %d", resp.StatusCode)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(places) > 0 {
		n.logger.Debug("Place resolved",
			zap.String("query", query),
			zap.String("display_name", places[0].DisplayName),
			zap.String("type", places[0].AddressType))
	}
	return len(places) > 0, nil
}
