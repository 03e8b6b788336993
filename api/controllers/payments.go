package controllers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stitchline/storefront-backend/api/responses"
	"github.com/stitchline/storefront-backend/api/validators"
	"github.com/stitchline/storefront-backend/internal/orders"
	"github.com/stitchline/storefront-backend/internal/reconciliation"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
)

const maxWebhookBodyBytes = 1 << 20

// PaymentReconciler applies gateway reports to orders.
type PaymentReconciler interface {
	SignatureHeader(provider string) (string, error)
	HandleWebhook(ctx context.Context, provider string, body []byte, signature string) (*reconciliation.Result, error)
	Verify(ctx context.Context, orderNumber string) (*reconciliation.Result, error)
}

type webhookResponse struct {
	Status      string `json:"status"`
	EventID     string `json:"event_id"`
	Outcome     string `json:"outcome"`
	OrderNumber string `json:"order_number,omitempty"`
	OrderStatus string `json:"order_status,omitempty"`
}

type verifyRequest struct {
	OrderNumber string `json:"order_number" validate:"required,max=64"`
}

type verifyResponse struct {
	Disposition string            `json:"disposition"`
	Reason      string            `json:"reason,omitempty"`
	Order       *orders.OrderView `json:"order,omitempty"`
}

// PaymentWebhook receives gateway notifications. The provider comes from the
// {provider} path segment; the bare route serves the primary gateway.
func PaymentWebhook(svc PaymentReconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}

		provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
		header, err := svc.SignatureHeader(provider)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(header))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInvalidSignature, "signature header missing"))
			return
		}

		result, err := svc.HandleWebhook(ctx, provider, payload, signature)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := webhookResponse{
			Status:  "processed",
			EventID: result.EventID,
			Outcome: string(result.Outcome),
		}
		if result.Disposition == reconciliation.DispositionDuplicate {
			resp.Status = "already_processed"
		}
		if result.Order != nil {
			resp.OrderNumber = result.Order.OrderNumber
			resp.OrderStatus = string(result.Order.Status)
		}
		responses.WriteSuccess(w, resp)
	}
}

// VerifyPayment asks the gateway for the order's payment status and applies it.
// Used by the confirmation page when a notification is slow to arrive.
func VerifyPayment(svc PaymentReconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}

		var payload verifyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Verify(r.Context(), payload.OrderNumber)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := verifyResponse{
			Disposition: string(result.Disposition),
			Reason:      result.Reason,
		}
		if result.Order != nil {
			view := orders.NewOrderView(result.Order).Redacted()
			resp.Order = &view
		}
		responses.WriteSuccess(w, resp)
	}
}
