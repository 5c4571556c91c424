// Package transporthttp exposes the REST surface over the engine
// orchestrator. Adapted from the teacher's internal/api.Server:
// net/http.ServeMux with Go 1.22+ method+path patterns, writeJSON/
// writeError helpers, typed-error-to-status mapping instead of the
// teacher's string-keyed symbol lookups.
package transporthttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/virtualbank/marketsim/internal/domain"
	"github.com/virtualbank/marketsim/internal/engine"
)

// Server serves the market simulator's REST API.
type Server struct {
	orc     *engine.Orchestrator
	startAt time.Time
}

// NewServer constructs a Server bound to an orchestrator.
func NewServer(orc *engine.Orchestrator) *Server {
	return &Server{orc: orc, startAt: time.Now()}
}

// Register attaches every route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.HandleFunc("GET /api/v1/markets/tickers", s.handleTickers)
	mux.HandleFunc("GET /api/v1/markets/regimes", s.handleRegimes)
	mux.HandleFunc("GET /api/v1/markets/news", s.handleNews)
	mux.HandleFunc("POST /api/v1/orders", s.handlePlaceOrder)
	mux.HandleFunc("GET /api/v1/orders/{id}", s.handleOrderStatus)
	mux.HandleFunc("GET /api/v1/portfolios/{userID}", s.handlePortfolio)
	mux.HandleFunc("GET /api/v1/trades", s.handleRecentTrades)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, s.orc.Tickers(ctx))
}

func (s *Server) handleRegimes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orc.Regimes())
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orc.RecentNews())
}

type placeOrderRequest struct {
	UserID    string           `json:"user_id"`
	Symbol    string           `json:"symbol"`
	Side      domain.Side      `json:"side"`
	OrderType domain.OrderType `json:"order_type"`
	Quantity  int64            `json:"quantity"`
	Price     *float64         `json:"price,omitempty"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	result, err := s.orc.PlaceOrder(ctx, domain.OrderRequest{
		UserID:    req.UserID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		OrderType: req.OrderType,
		Quantity:  req.Quantity,
		Price:     req.Price,
	})
	if err != nil {
		writeErrorForDomain(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"order": result.Order, "fills": result.Fills})
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, err := s.orc.OrderStatus(ctx, orderID)
	if err != nil {
		writeErrorForDomain(w, err)
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "order not found: "+orderID)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	snapshot, err := s.orc.Portfolio(ctx, userID)
	if err != nil {
		writeErrorForDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	trades, err := s.orc.RecentTrades(ctx, limit)
	if err != nil {
		writeErrorForDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// writeErrorForDomain maps the typed domain errors to HTTP status codes
// without string-matching, per spec.md §7.
func writeErrorForDomain(w http.ResponseWriter, err error) {
	var unknownSymbol *domain.UnknownSymbolError
	var riskRejection *domain.RiskRejectionError
	var notFound *domain.NotFoundError

	switch {
	case errors.As(err, &unknownSymbol):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &riskRejection):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
