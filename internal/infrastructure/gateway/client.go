// Package gateway talks to the external card/wallet payment provider.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrBreakerOpen = errors.New("gateway: circuit open")

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Type       string `json:"type"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway: http %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway: http %d: %s: %s", e.StatusCode, e.Type, e.Message)
}

// temporary reports whether retrying the same read could succeed.
func (e *APIError) temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

type Options struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	Timeout     time.Duration
	// GetBackOff builds the retry schedule for GetPayment, the only retried call.
	GetBackOff func() backoff.BackOff
	Transport  http.RoundTripper
}

// Client is a Moyasar-style REST client: basic auth with the secret key as
// user name, JSON bodies, amounts in minor units.
type Client struct {
	base        *url.URL
	secretKey   string
	callbackURL string
	http        *http.Client
	breaker     *gobreaker.CircuitBreaker
	getBackOff  func() backoff.BackOff
}

func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.GetBackOff == nil {
		opts.GetBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return backoff.WithMaxRetries(b, 3)
		}
	}
	return &Client{
		base:        base,
		secretKey:   opts.SecretKey,
		callbackURL: opts.CallbackURL,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(opts.Transport),
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "payment-gateway",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			// Client errors say nothing about provider health.
			IsSuccessful: func(err error) bool {
				var apiErr *APIError
				return err == nil || (errors.As(err, &apiErr) && !apiErr.temporary())
			},
		}),
		getBackOff: opts.GetBackOff,
	}, nil
}

type sourceBody struct {
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	Number string `json:"number,omitempty"`
	Month  int    `json:"month,omitempty"`
	Year   int    `json:"year,omitempty"`
	CVC    string `json:"cvc,omitempty"`
	Token  string `json:"token,omitempty"`
	Mobile string `json:"mobile,omitempty"`
}

type createPaymentBody struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Source      sourceBody        `json:"source"`
	Metadata    map[string]string `json:"metadata"`
}

type paymentBody struct {
	ID       string               `json:"id"`
	Status   dompay.GatewayStatus `json:"status"`
	Amount   int64                `json:"amount"`
	Currency string               `json:"currency"`
	Metadata map[string]string    `json:"metadata"`
	Source   struct {
		TransactionURL string `json:"transaction_url"`
	} `json:"source"`
}

type refundBody struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

func (c *Client) CreateIntent(ctx context.Context, req dompay.IntentRequest) (dompay.Intent, error) {
	src, err := encodeSource(req.Source)
	if err != nil {
		return dompay.Intent{}, err
	}
	body := createPaymentBody{
		Amount:      dompay.ToMinorUnits(req.Amount),
		Currency:    req.Currency,
		Description: req.Description,
		CallbackURL: c.callbackURL,
		Source:      src,
		Metadata: map[string]string{
			"transaction_id": req.TransactionID,
			"order_id":       req.OrderID,
			"order_number":   req.OrderNumber,
		},
	}
	var out paymentBody
	if err := c.call(ctx, http.MethodPost, "/payments", body, &out); err != nil {
		return dompay.Intent{}, err
	}
	return dompay.Intent{
		ID:             out.ID,
		Status:         out.Status,
		Amount:         out.Amount,
		Currency:       out.Currency,
		TransactionURL: out.Source.TransactionURL,
	}, nil
}

// GetPayment is a pure read, so transient failures are retried.
func (c *Client) GetPayment(ctx context.Context, id string) (dompay.GatewayPayment, error) {
	var out paymentBody
	err := backoff.Retry(func() error {
		err := c.call(ctx, http.MethodGet, "/payments/"+url.PathEscape(id), nil, &out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.temporary() {
			return backoff.Permanent(err)
		}
		if errors.Is(err, ErrBreakerOpen) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(c.getBackOff(), ctx))
	if err != nil {
		return dompay.GatewayPayment{}, err
	}
	return dompay.GatewayPayment{
		ID:       out.ID,
		Status:   out.Status,
		Amount:   out.Amount,
		Currency: out.Currency,
		Metadata: out.Metadata,
	}, nil
}

func (c *Client) Refund(ctx context.Context, paymentID string, amount decimal.Decimal, reason string) (dompay.Refund, error) {
	var out paymentBody
	path := "/payments/" + url.PathEscape(paymentID) + "/refund"
	body := refundBody{Amount: dompay.ToMinorUnits(amount), Description: reason}
	if err := c.call(ctx, http.MethodPost, path, body, &out); err != nil {
		return dompay.Refund{}, err
	}
	return dompay.Refund{
		ID:        out.ID,
		PaymentID: paymentID,
		Status:    out.Status,
		Amount:    out.Amount,
		Currency:  out.Currency,
	}, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	_, err := executeWithBreaker(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.do(ctx, method, path, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.SetBasicAuth(c.secretKey, "")
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gateway: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gateway: decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

func encodeSource(s dompay.Source) (sourceBody, error) {
	switch src := s.(type) {
	case dompay.CreditCard:
		return sourceBody{Type: string(src.Method()), Name: src.Name, Number: src.Number, Month: src.Month, Year: src.Year, CVC: src.CVC}, nil
	case *dompay.CreditCard:
		return encodeSource(*src)
	case dompay.ApplePay:
		return sourceBody{Type: string(src.Method()), Token: src.Token}, nil
	case *dompay.ApplePay:
		return encodeSource(*src)
	case dompay.StcPay:
		return sourceBody{Type: string(src.Method()), Mobile: src.Mobile}, nil
	case *dompay.StcPay:
		return encodeSource(*src)
	default:
		return sourceBody{}, fmt.Errorf("%w: %T", dompay.ErrUnknownMethod, s)
	}
}

func executeWithBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return *new(T), err
	}
	return res.(T), nil
}
