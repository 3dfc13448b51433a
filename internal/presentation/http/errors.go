package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/identity"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"github.com/go-playground/validator/v10"
)

const kindUnauthenticated = "unauthenticated"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Available *int              `json:"available,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func statusFor(err error) int {
	if errors.Is(err, dompay.ErrInvalidSignature) {
		return http.StatusUnauthorized
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation,
		apperr.KindInvalidTransition,
		apperr.KindOutOfStock,
		apperr.KindInsufficientStock,
		apperr.KindAmountMismatch,
		apperr.KindMultipleSellers:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError maps a use case error to its status and error body.
// Server-side failures are logged and their detail is not exposed.
func writeDomainError(ctx context.Context, w http.ResponseWriter, log observability.Logger, err error) {
	status := statusFor(err)
	detail := errorDetail{Kind: string(apperr.KindOf(err)), Message: publicMessage(err)}
	if status == http.StatusUnauthorized {
		detail.Kind = kindUnauthenticated
	}

	var stock *dominv.InsufficientStockError
	if errors.As(err, &stock) {
		available := stock.Available
		detail.Available = &available
	}

	if status >= http.StatusInternalServerError {
		logctx.FromOr(ctx, log).Error("request_failed",
			observability.F("status", status),
			observability.F("kind", detail.Kind),
			observability.F("error", err.Error()),
		)
		if status == http.StatusInternalServerError {
			detail.Message = "internal server error"
		}
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func publicMessage(err error) string {
	var stock *dominv.InsufficientStockError
	if errors.As(err, &stock) {
		return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
			stock.ProductID, stock.Requested, stock.Available)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		if ae.Err != nil {
			return ae.Msg + ": " + ae.Err.Error()
		}
		return ae.Msg
	}
	return err.Error()
}

func writeValidationError(w http.ResponseWriter, err error) {
	detail := errorDetail{Kind: string(apperr.KindValidation), Message: "invalid request"}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		detail.Fields = FormatValidationError(verrs)
	} else {
		detail.Message = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: detail})
}

func writeUnauthenticated(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{Kind: kindUnauthenticated, Message: msg}})
}

// FormatValidationError turns validator errors into field → message pairs.
func FormatValidationError(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		field := e.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch e.Tag() {
		case "required":
			out[field] = fmt.Sprintf("%s is required", field)
		case "min":
			out[field] = fmt.Sprintf("%s must be at least %s", field, e.Param())
		case "max":
			out[field] = fmt.Sprintf("%s must be at most %s", field, e.Param())
		case "gt":
			out[field] = fmt.Sprintf("%s must be greater than %s", field, e.Param())
		case "oneof":
			out[field] = fmt.Sprintf("%s must be one of [%s]", field, e.Param())
		case "credit_card":
			out[field] = fmt.Sprintf("%s must be a valid card number", field)
		default:
			out[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return out
}

// decodeJSON reads a bounded JSON body and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("malformed request body: %w", err)
	}
	return validate.Struct(dst)
}

type principalKey struct{}

// requirePrincipal reads the identity asserted by the upstream auth gateway.
func requirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := identity.Principal{
			UserID: strings.TrimSpace(r.Header.Get(headerUserID)),
			Role:   identity.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(headerUserRole)))),
		}
		if p.UserID == "" {
			writeUnauthenticated(w, identity.ErrUnauthenticated.Error())
			return
		}
		if !p.Role.Valid() {
			writeUnauthenticated(w, "unknown role "+string(p.Role))
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, p)
		ctx = logctx.With(ctx, logctx.FromOr(ctx, observability.NopLogger()).With(
			observability.F("user_id", p.UserID),
			observability.F("role", string(p.Role)),
		))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) identity.Principal {
	p, _ := ctx.Value(principalKey{}).(identity.Principal)
	return p
}
