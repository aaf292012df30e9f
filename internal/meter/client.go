package meter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jgoulah/monthclose/internal/config"
)

// maxBodySize bounds how much of a device response is read
const maxBodySize = 1 << 20

// FetchError reports a transport or malformed-response failure for one device
type FetchError struct {
	Address    string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("reading energy from %s (status %d): %v", e.Address, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("reading energy from %s: %v", e.Address, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Client reads month-to-date energy from devices over HTTP with basic auth
type Client struct {
	http     *http.Client
	scheme   string
	path     string
	field    string
	username string
	password string
}

// New creates a meter client from config
func New(cfg config.MeterConfig, timeout time.Duration) *Client {
	return &Client{
		http:     &http.Client{Timeout: timeout},
		scheme:   cfg.Scheme,
		path:     cfg.Path,
		field:    cfg.Field,
		username: cfg.Username,
		password: cfg.Password,
	}
}

// ReadMonthEnergy returns the device's cumulative month-to-date energy in kWh
func (c *Client) ReadMonthEnergy(ctx context.Context, address string) (float64, error) {
	reqURL := (&url.URL{Scheme: c.scheme, Host: address, Path: c.path}).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, &FetchError{Address: address, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &FetchError{Address: address, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, &FetchError{Address: address, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return 0, &FetchError{
			Address:    address,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))),
		}
	}

	value, err := extractField(body, c.field)
	if err != nil {
		return 0, &FetchError{Address: address, StatusCode: resp.StatusCode, Err: err}
	}
	return value, nil
}

// extractField pulls a numeric value out of a JSON document. The field is a
// gjson path ("emeters.0.total", "energy\.month.total") and the value a
// number or a numeric string with an optional unit suffix.
func extractField(body []byte, field string) (float64, error) {
	if !gjson.ValidBytes(body) {
		return 0, errors.New("response is not valid JSON")
	}

	r := gjson.GetBytes(body, field)
	if !r.Exists() {
		return 0, fmt.Errorf("field %q missing from response", field)
	}

	switch r.Type {
	case gjson.Number:
		return r.Float(), nil
	case gjson.String:
		return parseKWh(r.Str)
	case gjson.Null:
		return 0, errors.New("energy value is null")
	default:
		return 0, fmt.Errorf("energy value has unexpected type %s", r.Type)
	}
}

// parseKWh parses strings like "123.4", "123.4 kWh" or "1,234.5kwh"
func parseKWh(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(strings.ToLower(s), "kwh") {
		s = s[:len(s)-len("kwh")]
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, errors.New("empty energy value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing energy value %q: %w", s, err)
	}
	return v, nil
}
