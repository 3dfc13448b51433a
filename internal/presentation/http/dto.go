package httppresentation

import (
	"encoding/json"
	"fmt"
	"time"

	appcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/application/checkout"
	apppayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	"github.com/shopspring/decimal"
)

type cartLineRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type addressRequest struct {
	FullName   string `json:"fullName" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" validate:"required"`
	Region     string `json:"region"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country" validate:"required"`
}

func (a addressRequest) toDomain() domorder.ShippingAddress {
	return domorder.ShippingAddress{
		FullName:   a.FullName,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		Region:     a.Region,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

type createOrderRequest struct {
	Items           []cartLineRequest `json:"items" validate:"required,min=1,dive"`
	ShippingAddress addressRequest    `json:"shippingAddress"`
	DiscountCode    string            `json:"discountCode"`
}

func (req createOrderRequest) lines() []appcheckout.CartLine {
	out := make([]appcheckout.CartLine, len(req.Items))
	for i, it := range req.Items {
		out[i] = appcheckout.CartLine{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

type updateStatusRequest struct {
	Status            string     `json:"status" validate:"required"`
	TrackingNumber    *string    `json:"trackingNumber"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
	Reason            string     `json:"reason"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type returnRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type orderItemResponse struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"productId"`
	ProductName   string          `json:"productName"`
	ProductNameAr string          `json:"productNameAr,omitempty"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	Subtotal      decimal.Decimal `json:"subtotal"`
}

type orderResponse struct {
	ID                string                   `json:"id"`
	OrderNumber       string                   `json:"orderNumber"`
	BuyerID           string                   `json:"buyerId"`
	SellerID          string                   `json:"sellerId"`
	Status            domorder.Status          `json:"status"`
	Subtotal          decimal.Decimal          `json:"subtotal"`
	ShippingCost      decimal.Decimal          `json:"shippingCost"`
	Discount          decimal.Decimal          `json:"discount"`
	Total             decimal.Decimal          `json:"total"`
	Currency          string                   `json:"currency"`
	ShippingAddress   domorder.ShippingAddress `json:"shippingAddress"`
	TrackingNumber    *string                  `json:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time               `json:"estimatedDelivery,omitempty"`
	StatusReason      string                   `json:"statusReason,omitempty"`
	Items             []orderItemResponse      `json:"items"`
	CreatedAt         time.Time                `json:"createdAt"`
	UpdatedAt         time.Time                `json:"updatedAt"`
}

func toOrderResponse(o *domorder.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ID:            it.ID,
			ProductID:     it.ProductID,
			ProductName:   it.ProductName,
			ProductNameAr: it.ProductNameAr,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
			Subtotal:      it.Subtotal,
		}
	}
	return orderResponse{
		ID:                o.ID,
		OrderNumber:       o.Number,
		BuyerID:           o.BuyerID,
		SellerID:          o.SellerID,
		Status:            o.Status,
		Subtotal:          o.Subtotal,
		ShippingCost:      o.ShippingCost,
		Discount:          o.Discount,
		Total:             o.Total,
		Currency:          o.Currency,
		ShippingAddress:   o.ShippingAddress,
		TrackingNumber:    o.TrackingNumber,
		EstimatedDelivery: o.EstimatedDelivery,
		StatusReason:      o.StatusReason,
		Items:             items,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

type orderPageResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func toOrderPageResponse(p *appcheckout.Page) orderPageResponse {
	orders := make([]orderResponse, len(p.Orders))
	for i, o := range p.Orders {
		orders[i] = toOrderResponse(o)
	}
	return orderPageResponse{Orders: orders, Total: p.Total, Limit: p.Limit, Offset: p.Offset}
}

type createIntentRequest struct {
	OrderID       string          `json:"orderId" validate:"required"`
	PaymentSource json.RawMessage `json:"paymentSource" validate:"required"`
}

type sourceHeader struct {
	Type string `json:"type" validate:"required,oneof=creditcard applepay stcpay"`
}

// parseSource decodes the tagged payment-source union and validates the variant.
func parseSource(raw json.RawMessage) (dompay.Source, error) {
	var head sourceHeader
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("malformed paymentSource: %w", err)
	}
	if err := validate.Struct(head); err != nil {
		return nil, err
	}
	method, err := dompay.ParseMethod(head.Type)
	if err != nil {
		return nil, err
	}

	var src dompay.Source
	switch method {
	case dompay.MethodCreditCard:
		var c dompay.CreditCard
		err = json.Unmarshal(raw, &c)
		src = c
	case dompay.MethodApplePay:
		var a dompay.ApplePay
		err = json.Unmarshal(raw, &a)
		src = a
	case dompay.MethodStcPay:
		var s dompay.StcPay
		err = json.Unmarshal(raw, &s)
		src = s
	}
	if err != nil {
		return nil, fmt.Errorf("malformed paymentSource: %w", err)
	}
	if err := validate.Struct(src); err != nil {
		return nil, err
	}
	return src, nil
}

type paymentIntentResponse struct {
	ID             string               `json:"id"`
	TransactionID  string               `json:"transactionId"`
	Amount         decimal.Decimal      `json:"amount"`
	Currency       string               `json:"currency"`
	Status         dompay.GatewayStatus `json:"status"`
	TransactionURL string               `json:"transactionUrl,omitempty"`
}

type confirmRequest struct {
	PaymentID string `json:"paymentId" validate:"required"`
}

type transactionResponse struct {
	ID                string           `json:"id"`
	OrderID           string           `json:"orderId"`
	ExternalPaymentID string           `json:"externalPaymentId"`
	Amount            decimal.Decimal  `json:"amount"`
	Currency          string           `json:"currency"`
	Status            dompay.Status    `json:"status"`
	PaymentMethod     dompay.Method    `json:"paymentMethod"`
	FailureReason     string           `json:"failureReason,omitempty"`
	RefundID          string           `json:"refundId,omitempty"`
	RefundedAmount    *decimal.Decimal `json:"refundedAmount,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

func toTransactionResponse(t *dompay.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:                t.ID,
		OrderID:           t.OrderID,
		ExternalPaymentID: t.ExternalPaymentID,
		Amount:            t.Amount,
		Currency:          t.Currency,
		Status:            t.Status,
		PaymentMethod:     t.PaymentMethod,
		FailureReason:     t.FailureReason,
		RefundID:          t.RefundID,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
	if !t.RefundedAmount.IsZero() {
		amt := t.RefundedAmount
		resp.RefundedAmount = &amt
	}
	return resp
}

type refundRequest struct {
	TransactionID string           `json:"transactionId" validate:"required"`
	Amount        *decimal.Decimal `json:"amount"`
	Reason        string           `json:"reason" validate:"required"`
}

type refundResponse struct {
	ID            string               `json:"id"`
	TransactionID string               `json:"transactionId"`
	Amount        decimal.Decimal      `json:"amount"`
	Currency      string               `json:"currency"`
	Status        dompay.GatewayStatus `json:"status"`
}

func toRefundResponse(r *apppayment.RefundResult) refundResponse {
	return refundResponse{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		Amount:        r.Amount,
		Currency:      r.Currency,
		Status:        r.Status,
	}
}
