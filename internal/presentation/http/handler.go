package httppresentation

import (
	"net/http"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	appcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/application/checkout"
	apppayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	componentHTTPHandler = "http_server"
	headerUserID         = "X-User-ID"
	headerUserRole       = "X-User-Role"
	headerSignature      = "signature"
	defaultTimeout       = 15 * time.Second
	maxBodyBytes         = 1 << 20
)

// UseCases are the application entry points served over HTTP.
type UseCases struct {
	CreateOrder    application.UseCase[appcheckout.CreateOrderInput, *domorder.Order]
	GetOrder       application.UseCase[appcheckout.GetOrderInput, *domorder.Order]
	ListOrders     application.UseCase[appcheckout.ListOrdersInput, *appcheckout.Page]
	UpdateStatus   application.UseCase[appcheckout.UpdateStatusInput, *domorder.Order]
	CancelOrder    application.UseCase[appcheckout.CancelOrderInput, *domorder.Order]
	ReturnOrder    application.UseCase[appcheckout.ReturnOrderInput, *domorder.Order]
	CreateIntent   application.UseCase[apppayment.CreateIntentInput, *apppayment.IntentResult]
	ConfirmPayment application.UseCase[apppayment.ConfirmPaymentInput, *dompay.Transaction]
	Refund         application.UseCase[apppayment.RefundInput, *apppayment.RefundResult]
	Webhook        application.UseCase[apppayment.WebhookInput, *apppayment.WebhookResult]
}

type Handler struct {
	uc       UseCases
	metrics  http.Handler
	timeout  time.Duration
	log      observability.Logger
	tel      observability.Observability
	requests observability.Counter
	duration observability.Histogram
}

type Option func(*Handler)

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(handler *Handler) { handler.metrics = h }
}

// WithTimeout bounds every request; zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(handler *Handler) {
		if d > 0 {
			handler.timeout = d
		}
	}
}

func NewHandler(uc UseCases, tel observability.Observability, opts ...Option) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	h := &Handler{
		uc:       uc,
		timeout:  defaultTimeout,
		log:      tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:      tel,
		requests: tel.Metrics().Counter(observability.MHTTPRequests),
		duration: tel.Metrics().Histogram(observability.MHTTPRequestDuration),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router wires every route behind the middleware chain:
// RequestID → RealIP → Recoverer → Timeout → Trace → request logger → metrics → access log.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.timeout))
	r.Use(h.withTrace)
	r.Use(ObservabilityMiddleware(h.log, middleware.GetReqID))
	r.Use(h.withHTTPMetrics)
	r.Use(h.withAccessLog)

	r.Get("/health", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	r.Post("/payments/webhook", h.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(requirePrincipal)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.handleCreateOrder)
			r.Get("/", h.handleListOrders)
			r.Get("/seller/{sellerId}", h.handleListSellerOrders)
			r.Get("/{id}", h.handleGetOrder)
			r.Put("/{id}/status", h.handleUpdateStatus)
			r.Post("/{id}/cancel", h.handleCancelOrder)
			r.Post("/{id}/return", h.handleReturnOrder)
		})
		r.Post("/payments/create-intent", h.handleCreateIntent)
		r.Post("/payments/confirm", h.handleConfirmPayment)
		r.Post("/payments/refund", h.handleRefund)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
