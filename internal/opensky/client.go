package opensky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"skyburst/internal/telemetry"
)

// DefaultBaseURL is the public OpenSky REST endpoint.
const DefaultBaseURL = "https://opensky-network.org/api"

// State vector positions in the /states/all response
const (
	idxICAO24       = 0
	idxCallsign     = 1
	idxLongitude    = 5
	idxLatitude     = 6
	idxVelocity     = 9
	idxTrueTrack    = 10
	idxGeoAltitude  = 13
	minStateEntries = idxGeoAltitude + 1
)

const maxResponseBytes = 16 << 20

var (
	// ErrRateLimited is returned on HTTP 429.
	ErrRateLimited = errors.New("opensky rate limit exceeded")
	// ErrUnauthorized is returned on HTTP 401/403.
	ErrUnauthorized = errors.New("opensky rejected credentials")
)

// ClientConfig holds OpenSky connection settings
type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client fetches state vectors from the OpenSky REST API.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   *logrus.Logger
}

// NewClient creates a new OpenSky client
func NewClient(cfg ClientConfig, logger *logrus.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	return &Client{
		baseURL:  baseURL,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type statesResponse struct {
	Time   int64             `json:"time"`
	States []json.RawMessage `json:"states"`
}

// FetchStates returns every aircraft inside box. States whose reported
// position falls outside box are dropped. A response with no states yields
// an empty slice.
func (c *Client) FetchStates(ctx context.Context, box BoundingBox) ([]telemetry.RawAircraftRecord, error) {
	q := url.Values{}
	q.Set("lamin", formatCoord(box.LaMin))
	q.Set("lamax", formatCoord(box.LaMax))
	q.Set("lomin", formatCoord(box.LoMin))
	q.Set("lomax", formatCoord(box.LoMax))
	endpoint := c.baseURL + "/states/all?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	c.logger.WithField("url", endpoint).Debug("Requesting state vectors")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"credits_left": resp.Header.Get("X-Rate-Limit-Remaining"),
	}).Debug("Received response")

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w (retry after %ss)", ErrRateLimited, resp.Header.Get("X-Rate-Limit-Retry-After-Seconds"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}

	var body statesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	records := make([]telemetry.RawAircraftRecord, 0, len(body.States))
	outside := 0
	for i, raw := range body.States {
		rec, err := c.parseState(raw)
		if err != nil {
			c.logger.WithError(err).WithField("index", i).Debug("Skipping malformed state vector")
			continue
		}
		// Records without a position are kept; they are sent with zeroes.
		if rec.Latitude != nil && rec.Longitude != nil && !box.Contains(*rec.Latitude, *rec.Longitude) {
			outside++
			continue
		}
		records = append(records, rec)
	}

	c.logger.WithFields(logrus.Fields{
		"time":     body.Time,
		"states":   len(body.States),
		"outside":  outside,
		"aircraft": len(records),
	}).Debug("Parsed state vectors")

	return records, nil
}

func (c *Client) parseState(raw json.RawMessage) (telemetry.RawAircraftRecord, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return telemetry.RawAircraftRecord{}, fmt.Errorf("state is not an array: %w", err)
	}
	if len(fields) < minStateEntries {
		return telemetry.RawAircraftRecord{}, fmt.Errorf("state has %d entries, need %d", len(fields), minStateEntries)
	}

	rec := telemetry.RawAircraftRecord{
		Callsign:    c.optString(fields, idxCallsign),
		Longitude:   c.optFloat(fields, idxLongitude),
		Latitude:    c.optFloat(fields, idxLatitude),
		GeoAltitude: c.optFloat(fields, idxGeoAltitude),
		Velocity:    c.optFloat(fields, idxVelocity),
		TrueTrack:   c.optFloat(fields, idxTrueTrack),
	}
	if icao := c.optString(fields, idxICAO24); icao != nil {
		rec.ICAO24 = *icao
	}

	return rec, nil
}

// optString returns nil for null or mistyped entries.
func (c *Client) optString(fields []json.RawMessage, idx int) *string {
	if isNull(fields[idx]) {
		return nil
	}
	var s string
	if err := json.Unmarshal(fields[idx], &s); err != nil {
		c.logger.WithError(err).WithField("index", idx).Debug("Ignoring non-string field")
		return nil
	}
	return &s
}

// optFloat returns nil for null or mistyped entries.
func (c *Client) optFloat(fields []json.RawMessage, idx int) *float64 {
	if isNull(fields[idx]) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(fields[idx], &f); err != nil {
		c.logger.WithError(err).WithField("index", idx).Debug("Ignoring non-numeric field")
		return nil
	}
	return &f
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
