package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
	"github.com/bikeshrana/sim-exchange-core/internal/intake"
)

type ordersHandler struct {
	intake *intake.Service
	logger zerolog.Logger
}

func newOrdersHandler(svc *intake.Service, logger zerolog.Logger) *ordersHandler {
	return &ordersHandler{intake: svc, logger: logger.With().Str("component", "api.orders").Logger()}
}

// submitOrderBody is POST /orders's request shape (§6).
type submitOrderBody struct {
	IdempotencyKey string          `json:"idempotency_key"`
	UserID         uuid.UUID       `json:"user_id"`
	TickerID       string          `json:"ticker_id"`
	Side           string          `json:"side"`
	Type           string          `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	TargetPrice    decimal.Decimal `json:"target_price"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	TrailingGap    decimal.Decimal `json:"trailing_gap"`
}

func (h *ordersHandler) submit(w http.ResponseWriter, r *http.Request) {
	var body submitOrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		body.IdempotencyKey = key
	}

	req := intake.Request{
		IdempotencyKey: body.IdempotencyKey,
		UserID:         body.UserID,
		TickerID:       body.TickerID,
		Side:           domain.OrderSide(body.Side),
		Type:           domain.OrderType(body.Type),
		Quantity:       body.Quantity,
		TargetPrice:    body.TargetPrice,
		StopPrice:      body.StopPrice,
		TrailingGap:    body.TrailingGap,
	}

	resp, err := h.intake.SubmitOrder(r.Context(), req)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *ordersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	resp, err := h.intake.CancelOrder(r.Context(), orderID)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
