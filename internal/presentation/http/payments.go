package httppresentation

import (
	"errors"
	"io"
	"net/http"

	apppayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

func (h *Handler) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	src, err := parseSource(req.PaymentSource)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	res, err := h.uc.CreateIntent.Execute(r.Context(), apppayment.CreateIntentInput{
		Principal: principalFrom(r.Context()),
		OrderID:   req.OrderID,
		Source:    src,
	})
	if err != nil {
		writeDomainError(r.Context(), w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]paymentIntentResponse{
		"paymentIntent": {
			ID:             res.ID,
			TransactionID:  res.TransactionID,
			Amount:         res.Amount,
			Currency:       res.Currency,
			Status:         res.Status,
			TransactionURL: res.TransactionURL,
		},
	})
}

func (h *Handler) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	tx, err := h.uc.ConfirmPayment.Execute(r.Context(), apppayment.ConfirmPaymentInput{
		Principal: principalFrom(r.Context()),
		PaymentID: req.PaymentID,
	})
	if err != nil {
		writeDomainError(r.Context(), w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]transactionResponse{"transaction": toTransactionResponse(tx)})
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	res, err := h.uc.Refund.Execute(r.Context(), apppayment.RefundInput{
		Principal:     principalFrom(r.Context()),
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Reason:        req.Reason,
	})
	if err != nil {
		writeDomainError(r.Context(), w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]refundResponse{"refund": toRefundResponse(res)})
}

// handleWebhook acknowledges every delivery with a valid signature. Business
// failures are logged and left to redelivery or the sweep job.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeValidationError(w, err)
		return
	}

	res, err := h.uc.Webhook.Execute(r.Context(), apppayment.WebhookInput{
		RawBody:   body,
		Signature: r.Header.Get(headerSignature),
	})
	if err != nil {
		if errors.Is(err, dompay.ErrInvalidSignature) {
			writeDomainError(r.Context(), w, h.log, err)
			return
		}
		logctx.FromOr(r.Context(), h.log).Error("webhook_processing_failed",
			observability.F("error", err.Error()),
		)
	}
	ack := map[string]any{"received": true}
	if res != nil && res.Outcome != "" {
		ack["outcome"] = res.Outcome
	}
	writeJSON(w, http.StatusOK, ack)
}
