/*

This file implements a PriceOracle backed by an HTTP JSON price feed. The feed
is polled on demand with strict validation of every field; a reading that fails
validation is rejected outright rather than patched or defaulted.

*/

package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/fluxvault/fluxd/internal/logger"
)

var feedLogger = logger.GetForComponent("price_feed")

var (
	ErrFeedRequestFailed = errors.New("price feed request failed")
	ErrFeedInvalidData   = errors.New("invalid price feed data")
)

const (
	feedTimeout = 10 * time.Second
)

// feedResponse is the JSON shape served by the price feed endpoint.
type feedResponse struct {
	Price     string `json:"price"`      // Integer string in feed decimals
	Decimals  uint8  `json:"decimals"`   // Fixed-point precision of Price
	UpdatedAt int64  `json:"updated_at"` // Unix seconds of the last update
}

// HTTPFeed polls a JSON price endpoint. It implements PriceOracle.
type HTTPFeed struct {
	url      string
	decimals uint8
	client   *http.Client
}

// NewHTTPFeed creates a feed client for the given endpoint. The feed must
// report prices in exactly the configured decimals; a mismatched response is
// treated as invalid data.
func NewHTTPFeed(url string, decimals uint8) (*HTTPFeed, error) {
	if url == "" {
		return nil, errors.New("price feed URL cannot be empty")
	}
	if decimals > 18 {
		return nil, fmt.Errorf("price feed decimals out of range: %d", decimals)
	}
	return &HTTPFeed{
		url:      url,
		decimals: decimals,
		client:   &http.Client{Timeout: feedTimeout},
	}, nil
}

// LatestReading implements PriceOracle by fetching the feed endpoint.
func (h *HTTPFeed) LatestReading() (sdkmath.Int, time.Time, error) {
	resp, err := h.client.Get(h.url)
	if err != nil {
		return sdkmath.Int{}, time.Time{}, errors.Join(ErrFeedRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return sdkmath.Int{}, time.Time{}, fmt.Errorf("%w: unexpected status %d", ErrFeedRequestFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return sdkmath.Int{}, time.Time{}, errors.Join(ErrFeedRequestFailed, err)
	}

	var parsed feedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return sdkmath.Int{}, time.Time{}, errors.Join(ErrFeedInvalidData, err)
	}

	if err := validateFeedResponse(parsed, h.decimals); err != nil {
		return sdkmath.Int{}, time.Time{}, errors.Join(ErrFeedInvalidData, err)
	}

	value, ok := sdkmath.NewIntFromString(parsed.Price)
	if !ok {
		return sdkmath.Int{}, time.Time{}, fmt.Errorf("%w: unparseable price %q", ErrFeedInvalidData, parsed.Price)
	}

	updatedAt := time.Unix(parsed.UpdatedAt, 0).UTC()

	feedLogger.Debug().
		Str("price", value.String()).
		Time("updatedAt", updatedAt).
		Msg("Fetched price feed reading")

	return value, updatedAt, nil
}

// Decimals implements PriceOracle.
func (h *HTTPFeed) Decimals() uint8 {
	return h.decimals
}

// validateFeedResponse performs strict validation on a feed response.
func validateFeedResponse(resp feedResponse, wantDecimals uint8) error {
	if resp.Price == "" {
		return errors.New("price field is empty")
	}
	if resp.Decimals != wantDecimals {
		return fmt.Errorf("feed decimals %d do not match configured %d", resp.Decimals, wantDecimals)
	}
	if resp.UpdatedAt <= 0 {
		return fmt.Errorf("invalid updated_at timestamp: %d", resp.UpdatedAt)
	}
	return nil
}
