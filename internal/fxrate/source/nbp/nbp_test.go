package nbp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchRateParsesMid(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"table":"A","currency":"dolar amerykański","code":"USD","rates":[{"no":"051/A/NBP/2026","effectiveDate":"2026-03-13","mid":3.9871}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", srv.Client())
	rate, err := client.FetchRate(context.Background(), "USD")
	require.NoError(t, err)
	assert.Equal(t, "3.9871", rate.String())
	assert.Equal(t, "/usd/", gotPath)
}

func TestFetchRateFailsOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client()).FetchRate(context.Background(), "USD")
	require.Error(t, err)
}

func TestFetchRateFailsOnEmptyTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"USD","rates":[]}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client()).FetchRate(context.Background(), "USD")
	assert.ErrorIs(t, err, ErrEmptyTable)
}

func TestFetchRateHonoursContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL, srv.Client()).FetchRate(ctx, "USD")
	require.Error(t, err)
}
