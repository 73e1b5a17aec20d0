package billing

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Hadxxx/MedicIA/internal/platform/httpio"
	"github.com/Hadxxx/MedicIA/internal/store"
)

type Handler struct {
	svc *Service
	log *zap.Logger
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log.Named("billing.http")}
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/plans", h.Plans)
	r.Post("/customers", h.CreateCustomer)
	r.Get("/customers/{id}", h.GetCustomer)
	r.Post("/checkout", h.Checkout)
	r.Get("/payments/{id}", h.GetPayment)
}

func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	httpio.JSON(w, http.StatusOK, Plans())
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req NewCustomer
	if !httpio.Decode(w, r, &req) {
		return
	}
	c, err := h.svc.CreateCustomer(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpio.JSON(w, http.StatusCreated, c)
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := httpio.PathUUID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.svc.GetCustomer(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpio.JSON(w, http.StatusOK, c)
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !httpio.Decode(w, r, &req) {
		return
	}
	res, err := h.svc.Checkout(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpio.JSON(w, http.StatusOK, res)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := httpio.PathUUID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.svc.GetPayment(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpio.JSON(w, http.StatusOK, p)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpio.Error(w, http.StatusNotFound, httpio.ErrorResponse{Error: "record not found", Code: "not_found"})
	case errors.As(err, &verr):
		httpio.Error(w, http.StatusBadRequest, httpio.ErrorResponse{Error: "validation failed", Code: "validation_failed", Fields: verr.Fields})
	case errors.Is(err, store.ErrUnknownField), errors.Is(err, store.ErrInvalidValue):
		httpio.Error(w, http.StatusBadRequest, httpio.ErrorResponse{Error: err.Error(), Code: "bad_request"})
	case errors.Is(err, ErrGatewayUnavailable):
		httpio.Error(w, http.StatusBadGateway, httpio.ErrorResponse{Error: ErrGatewayUnavailable.Error(), Code: "gateway_unavailable"})
	default:
		h.log.Error("request failed", zap.Error(err))
		httpio.Error(w, http.StatusInternalServerError, httpio.ErrorResponse{Error: "internal error"})
	}
}
