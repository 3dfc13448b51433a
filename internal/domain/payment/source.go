package payment

import (
	"errors"
	"fmt"
)

var ErrUnknownMethod = errors.New("payment: unknown payment source type")

type Method string

const (
	MethodCreditCard Method = "creditcard"
	MethodApplePay   Method = "applepay"
	MethodStcPay     Method = "stcpay"
)

// Source is a closed union over the payment-source kinds the gateway accepts.
type Source interface {
	Method() Method
	isSource()
}

type CreditCard struct {
	Name   string `json:"name" validate:"required"`
	Number string `json:"number" validate:"required,credit_card"`
	Month  int    `json:"month" validate:"required,min=1,max=12"`
	Year   int    `json:"year" validate:"required,min=2000"`
	CVC    string `json:"cvc" validate:"required,numeric,min=3,max=4"`
}

type ApplePay struct {
	Token string `json:"token" validate:"required"`
}

type StcPay struct {
	Mobile string `json:"mobile" validate:"required,e164|numeric"`
}

func (CreditCard) Method() Method { return MethodCreditCard }
func (ApplePay) Method() Method   { return MethodApplePay }
func (StcPay) Method() Method     { return MethodStcPay }

func (CreditCard) isSource() {}
func (ApplePay) isSource()   {}
func (StcPay) isSource()     {}

func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodCreditCard, MethodApplePay, MethodStcPay:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// MaskedCard keeps the last four digits for logs and receipts.
func (c CreditCard) MaskedCard() string {
	if len(c.Number) < 4 {
		return "****"
	}
	return "****" + c.Number[len(c.Number)-4:]
}
