// Package risk implements the pre-trade credit check and best-effort
// event publication to an external policy service. Grounded on
// original_source's RiskEngine: a no-op when unconfigured, a single GET
// for the credit check, and fire-and-forget POSTs for every publish_*
// call — no retries, by spec. Deliberately built on plain net/http.Client
// rather than the pack's hashicorp/go-retryablehttp (see DESIGN.md): a
// retrying client would contradict the "any transport error fails the
// same way, no retries" contract below.
package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/virtualbank/marketsim/internal/domain"
)

const (
	creditEndpoint = "internal/risk/credit"
	eventsEndpoint = "internal/risk/events"
)

// Gateway coordinates credit checks and risk event emission.
type Gateway struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// New constructs a Gateway. An empty baseURL disables every operation
// (EnsureCreditLimit becomes a no-op, publish_* calls are skipped),
// matching the capability-gated contract in spec.md §4.4.
func New(baseURL string, timeout time.Duration, logger zerolog.Logger) *Gateway {
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     logger.With().Str("component", "risk").Logger(),
	}
}

type creditResponse struct {
	Available float64 `json:"available"`
}

// EnsureCreditLimit performs the synchronous credit pre-check. A missing
// base URL makes this a no-op. Any transport error or insufficient
// credit fails with RiskRejectionError; the latter also publishes a
// risk.limit_breach event first.
func (g *Gateway) EnsureCreditLimit(ctx context.Context, req domain.OrderRequest, notional float64) error {
	if g.baseURL == "" {
		return nil
	}

	u := fmt.Sprintf("%s/%s/%s?%s", g.baseURL, creditEndpoint, req.UserID, url.Values{
		"symbol":   {req.Symbol},
		"notional": {strconv.FormatFloat(notional, 'f', -1, 64)},
	}.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &domain.RiskRejectionError{Reason: fmt.Sprintf("risk service unavailable: %v", err)}
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return &domain.RiskRejectionError{Reason: fmt.Sprintf("risk service unavailable: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &domain.RiskRejectionError{Reason: fmt.Sprintf("risk service unavailable: status %d", resp.StatusCode)}
	}

	var payload creditResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return &domain.RiskRejectionError{Reason: fmt.Sprintf("risk service unavailable: %v", err)}
	}

	if payload.Available < notional {
		g.PublishEvent(ctx, "risk.limit_breach", map[string]any{
			"user_id":             req.UserID,
			"symbol":              req.Symbol,
			"requested_notional": round2(notional),
			"available_notional": round2(payload.Available),
		})
		return &domain.RiskRejectionError{
			Reason: fmt.Sprintf("insufficient credit for order notional %.2f. available: %.2f", notional, payload.Available),
		}
	}
	return nil
}

// PublishOrder emits a risk.order.accepted event.
func (g *Gateway) PublishOrder(ctx context.Context, status domain.OrderStatus, notional float64) {
	g.PublishEvent(ctx, "risk.order.accepted", map[string]any{
		"order":    status,
		"notional": round2(notional),
	})
}

// PublishFills emits a risk.order.filled event.
func (g *Gateway) PublishFills(ctx context.Context, status domain.OrderStatus, fills []domain.TradeFill) {
	g.PublishEvent(ctx, "risk.order.filled", map[string]any{
		"order": status,
		"fills": fills,
	})
}

// PublishPortfolio emits a risk.portfolio.snapshot event.
func (g *Gateway) PublishPortfolio(ctx context.Context, snapshot domain.PortfolioResponse) {
	g.PublishEvent(ctx, "risk.portfolio.snapshot", snapshot)
}

// PublishEvent best-effort POSTs {type, payload} to the events endpoint.
// A missing base URL or any transport failure is silently swallowed —
// downstream connectivity never blocks trading.
func (g *Gateway) PublishEvent(ctx context.Context, eventType string, payload any) {
	if g.baseURL == "" {
		return
	}

	body, err := json.Marshal(map[string]any{"type": eventType, "payload": payload})
	if err != nil {
		g.log.Warn().Err(err).Str("event", eventType).Msg("failed to encode risk event")
		return
	}

	u := fmt.Sprintf("%s/%s", g.baseURL, eventsEndpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.log.Debug().Err(err).Str("event", eventType).Msg("risk event publish failed, dropping")
		return
	}
	defer resp.Body.Close()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
