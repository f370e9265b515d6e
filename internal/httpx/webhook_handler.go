package httpx

import (
	"errors"
	"io"
	"net/http"

	"github.com/quickcart/order-engine/internal/gateway"
	"github.com/quickcart/order-engine/internal/order"

	"github.com/go-chi/chi/v5"
)

type WebhookHandler struct {
	Processor *gateway.WebhookProcessor
}

func (h *WebhookHandler) Register(r *chi.Mux) {
	r.Post("/webhooks/payment", h.handle)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "read body")
		return
	}

	err = h.Processor.Handle(r.Context(), body, r.Header.Get("X-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case errors.Is(err, gateway.ErrBadSignature):
		writeErr(w, http.StatusUnauthorized, "bad_signature")
	case errors.Is(err, gateway.ErrIntentNotFound), errors.Is(err, order.ErrNotFound):
		writeErr(w, http.StatusNotFound, "unknown_invoice")
	case errors.Is(err, order.ErrAmountMismatch):
		// hard failure: never silently accept an under/over-payment
		writeErr(w, http.StatusConflict, "amount_mismatch")
	default:
		// 5xx so the gateway redelivers; processing is idempotent
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}
