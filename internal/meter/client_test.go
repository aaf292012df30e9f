package meter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/monthclose/internal/config"
)

func newTestClient(t *testing.T, field string, handler http.HandlerFunc) (*Client, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(config.MeterConfig{
		Scheme:   "http",
		Path:     "/api/energy/month",
		Field:    field,
		Username: "meter",
		Password: "s3cret",
	}, 2*time.Second)
	return c, strings.TrimPrefix(srv.URL, "http://")
}

func TestReadMonthEnergy(t *testing.T) {
	c, addr := newTestClient(t, "month_energy", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "meter" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/api/energy/month", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"month_energy": 45.5}`))
	})

	v, err := c.ReadMonthEnergy(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, 45.5, v)
}

func TestReadMonthEnergy_Unauthorized(t *testing.T) {
	c, addr := newTestClient(t, "month_energy", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	})

	_, err := c.ReadMonthEnergy(context.Background(), addr)
	require.Error(t, err)

	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, http.StatusUnauthorized, ferr.StatusCode)
	assert.Equal(t, addr, ferr.Address)
}

func TestReadMonthEnergy_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"missing field", `{"total": 1}`},
		{"null value", `{"month_energy": null}`},
		{"bool value", `{"month_energy": true}`},
		{"garbage string", `{"month_energy": "n/a"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, addr := newTestClient(t, "month_energy", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			_, err := c.ReadMonthEnergy(context.Background(), addr)
			var ferr *FetchError
			require.True(t, errors.As(err, &ferr), "expected FetchError, got %v", err)
		})
	}
}

func TestReadMonthEnergy_TransportFailure(t *testing.T) {
	c := New(config.MeterConfig{Scheme: "http", Path: "/", Field: "x"}, 200*time.Millisecond)

	_, err := c.ReadMonthEnergy(context.Background(), "127.0.0.1:1")
	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Zero(t, ferr.StatusCode)
}

func TestExtractField(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
		want  float64
	}{
		{"number", `{"e": 12}`, "e", 12},
		{"string with unit", `{"e": "1,234.5 kWh"}`, "e", 1234.5},
		{"nested path", `{"emeters": [{"total": 3.25}]}`, "emeters.0.total", 3.25},
		{"zero", `{"e": 0}`, "e", 0},
		{"dotted key", `{"energy.month": {"total": "12.5 kWh"}}`, `energy\.month.total`, 12.5},
		{"lowercase unit", `{"e": "12.5kwh"}`, "e", 12.5},
		{"uppercase unit", `{"e": "7 KWH"}`, "e", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractField([]byte(tt.body), tt.field)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractField_BadIndex(t *testing.T) {
	_, err := extractField([]byte(`{"emeters": []}`), "emeters.0.total")
	assert.Error(t, err)
}

func TestExtractField_Errors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
		want  string
	}{
		{"invalid json", `{"e": `, "e", "not valid JSON"},
		{"missing", `{"energy.month": {"total": 1}}`, "energy.month.total", "missing"},
		{"null", `{"e": null}`, "e", "null"},
		{"object", `{"e": {"v": 1}}`, "e", "unexpected type"},
		{"unit only", `{"e": "kWh"}`, "e", "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := extractField([]byte(tt.body), tt.field)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
