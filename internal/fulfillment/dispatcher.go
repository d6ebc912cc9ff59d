// Package fulfillment hands paid orders to the content-generation pipeline.
// The receiving side is idempotent per order, so a dispatch may be repeated.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/copydesk/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultTimeout = 5 * time.Second

var Module = fx.Module("fulfillment.dispatcher",
	fx.Provide(NewFromConfig),
)

type Dispatcher interface {
	Dispatch(ctx context.Context, orderID snowflake.ID) error
}

type NoOpDispatcher struct{}

func (NoOpDispatcher) Dispatch(ctx context.Context, orderID snowflake.ID) error {
	return nil
}

func NewFromConfig(cfg config.Config, log *zap.Logger) Dispatcher {
	url := strings.TrimSpace(cfg.Fulfillment.URL)
	if url == "" {
		log.Named("fulfillment").Warn("FULFILLMENT_URL not set, paid orders will not be dispatched")
		return NoOpDispatcher{}
	}
	timeout := cfg.Fulfillment.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewHTTPDispatcher(url, cfg.Fulfillment.Token, &http.Client{Timeout: timeout})
}

// HTTPDispatcher POSTs {"order_id": "..."} to the pipeline.
type HTTPDispatcher struct {
	url        string
	token      string
	httpClient *http.Client
}

func NewHTTPDispatcher(url, token string, httpClient *http.Client) *HTTPDispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPDispatcher{url: url, token: token, httpClient: httpClient}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, orderID snowflake.ID) error {
	body, err := json.Marshal(map[string]string{"order_id": orderID.String()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("X-Internal-Token", d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch order %s: %w", orderID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("dispatch order %s: unexpected status %d", orderID, resp.StatusCode)
	}
	return nil
}

// Trigger dispatches in the background, detached from the caller's
// cancellation but bounded by timeout. Failures are logged only; the
// pipeline picks up in_progress items on its own sweep.
func Trigger(ctx context.Context, d Dispatcher, log *zap.Logger, orderID snowflake.ID, timeout time.Duration) {
	if d == nil {
		return
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	go func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := d.Dispatch(dctx, orderID); err != nil {
			log.Warn("fulfillment dispatch failed",
				zap.String("order_id", orderID.String()),
				zap.Error(err),
			)
		}
	}()
}
