// Package nbp reads table A mid rates from the National Bank of Poland API.
package nbp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/copydesk/internal/config"
	"github.com/smallbiznis/copydesk/internal/fxrate/domain"
)

const defaultBaseURL = "https://api.nbp.pl/api/exchangerates/rates/a"

var ErrEmptyTable = errors.New("nbp_empty_table")

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(cfg config.Config) *Client {
	return NewClient(cfg.FX.SourceURL, &http.Client{Timeout: cfg.FX.FetchTimeout})
}

// NewSource exposes the client as the cache's rate source.
func NewSource(cfg config.Config) domain.Source {
	return New(cfg)
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

type tableResponse struct {
	Code  string `json:"code"`
	Rates []struct {
		No            string          `json:"no"`
		EffectiveDate string          `json:"effectiveDate"`
		Mid           decimal.Decimal `json:"mid"`
	} `json:"rates"`
}

// FetchRate returns the latest published mid rate (PLN per unit).
func (c *Client) FetchRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	code := strings.ToLower(strings.TrimSpace(currency))
	if code == "" {
		return decimal.Decimal{}, domain.ErrUnsupportedCurrency
	}

	url := fmt.Sprintf("%s/%s/?format=json", c.baseURL, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return decimal.Decimal{}, fmt.Errorf("nbp: unexpected status %d", resp.StatusCode)
	}

	var table tableResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&table); err != nil {
		return decimal.Decimal{}, fmt.Errorf("nbp: decode: %w", err)
	}
	if len(table.Rates) == 0 {
		return decimal.Decimal{}, ErrEmptyTable
	}
	return table.Rates[len(table.Rates)-1].Mid, nil
}
