package httppresentation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	appcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/application/checkout"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	o, err := h.uc.CreateOrder.Execute(r.Context(), appcheckout.CreateOrderInput{
		Principal:       principalFrom(r.Context()),
		Items:           req.lines(),
		ShippingAddress: req.ShippingAddress.toDomain(),
		DiscountCode:    req.DiscountCode,
	})
	if err != nil {
		writeDomainError(r.Context(), w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.uc.GetOrder.Execute(r.Context(), appcheckout.GetOrderInput{
		Principal: principalFrom(r.Context()),
		OrderID:   chi.URLParam(r, "id"),
	})
	if err != nil {
		writeDomainError(r.Context(), w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, "")
}

func (h *Handler) handleListSellerOrders(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, chi.URLParam(r, "sellerId"))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, sellerID string) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeValidationError(w, err)
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		writeValidationError(w, err)
		return
	}

	page, err := h.uc.ListOrders.Execute(r.Context(), appcheckout.ListOrdersInput{
		Principal: principalFrom(r.Context()),
		SellerID:  sellerID,
		Status:    domorder.Status(q.Get("status")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeDomainError(r.Context(), w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderPageResponse(page))
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	o, err := h.uc.UpdateStatus.Execute(r.Context(), appcheckout.UpdateStatusInput{
		Principal:         principalFrom(r.Context()),
		OrderID:           chi.URLParam(r, "id"),
		Status:            domorder.Status(req.Status),
		TrackingNumber:    req.TrackingNumber,
		EstimatedDelivery: req.EstimatedDelivery,
		Reason:            req.Reason,
	})
	if err != nil {
		writeDomainError(r.Context(), w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeValidationError(w, err)
		return
	}

	o, err := h.uc.CancelOrder.Execute(r.Context(), appcheckout.CancelOrderInput{
		Principal: principalFrom(r.Context()),
		OrderID:   chi.URLParam(r, "id"),
		Reason:    req.Reason,
	})
	if err != nil {
		writeDomainError(r.Context(), w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) handleReturnOrder(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	o, err := h.uc.ReturnOrder.Execute(r.Context(), appcheckout.ReturnOrderInput{
		Principal: principalFrom(r.Context()),
		OrderID:   chi.URLParam(r, "id"),
		Reason:    req.Reason,
	})
	if err != nil {
		writeDomainError(r.Context(), w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
