package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MCheckoutCompensations   MetricKey = "checkout_compensations_total"
	MWebhookEvents           MetricKey = "payment_webhook_events_total"
	MInventoryLowStock       MetricKey = "inventory_low_stock_total"
	MPaymentsStranded        MetricKey = "payment_stranded_total"
)

// MetricSpec describes how a MetricKey is registered with a backend.
type MetricSpec struct {
	Key    MetricKey
	Help   string
	Labels []string
}

// CounterSpecs lists every counter the service records.
var CounterSpecs = []MetricSpec{
	{MUsecaseRequests, "Total number of use case invocations.", []string{"use_case", "outcome"}},
	{MHTTPRequests, "Total number of HTTP requests.", []string{"method", "route", "status"}},
	{MExternalRequests, "Calls to external dependencies.", []string{"peer", "endpoint", "outcome"}},
	{MCheckoutCompensations, "Checkout steps rolled back after a later failure.", []string{"reason"}},
	{MWebhookEvents, "Payment gateway webhook deliveries.", []string{"type", "outcome"}},
	{MInventoryLowStock, "Products that crossed their low stock threshold.", nil},
	{MPaymentsStranded, "Completed payments whose order was already closed.", []string{"order_status"}},
}

// HistogramSpecs lists every histogram the service records.
var HistogramSpecs = []MetricSpec{
	{MUsecaseDuration, "Duration of use case execution in seconds.", []string{"use_case"}},
	{MHTTPRequestDuration, "Duration of HTTP requests in seconds.", []string{"method", "route", "status"}},
	{MExternalRequestDuration, "Duration of external calls in seconds.", []string{"peer", "endpoint"}},
}
