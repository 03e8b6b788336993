package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stitchline/storefront-backend/api/middleware"
	"github.com/stitchline/storefront-backend/api/responses"
	"github.com/stitchline/storefront-backend/api/validators"
	"github.com/stitchline/storefront-backend/internal/orders"
	"github.com/stitchline/storefront-backend/pkg/db/models"
	"github.com/stitchline/storefront-backend/pkg/enums"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
	"github.com/stitchline/storefront-backend/pkg/outbox"
)

const maxReasonLen = 500

// OrderService is the slice of the order service the HTTP layer uses.
type OrderService interface {
	GetByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	Apply(ctx context.Context, input orders.TransitionInput) (*models.Order, error)
}

type transitionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// GetOrder returns the read-only status projection of an order. Address and
// measurements are only shown to the owner or an admin.
func GetOrder(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		number, err := orderNumberParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.GetByNumber(r.Context(), number)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view := orders.NewOrderView(order)
		if !canSeeCustomerDetails(r.Context(), order) {
			view = view.Redacted()
		}
		responses.WriteSuccess(w, view)
	}
}

func canSeeCustomerDetails(ctx context.Context, order *models.Order) bool {
	id, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		return false
	}
	if enums.AccountRole(id.Role) == enums.AccountRoleAdmin {
		return true
	}
	return order.CustomerUserID != nil && order.CustomerUserID.String() == id.UserID
}

// CustomerCancelOrder lets the signed-in owner cancel an order that has not
// started fulfilment.
func CustomerCancelOrder(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		userID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		number, err := orderNumberParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason, err := decodeReason(r, "cancelled by customer")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetByNumber(r.Context(), number)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// Someone else's order reads as missing.
		if order.CustomerUserID == nil || *order.CustomerUserID != userID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}

		updated, err := svc.Apply(r.Context(), orders.TransitionInput{
			OrderID: order.ID,
			Event:   orders.EventCancelRequested,
			Reason:  reason,
			Actor:   &outbox.ActorRef{Role: outbox.ActorCustomer, UserID: &userID},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, orders.NewOrderView(updated))
	}
}

func orderNumberParam(r *http.Request) (string, error) {
	number := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "orderNumber")))
	if number == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}
	return number, nil
}

// decodeReason reads an optional {"reason": "..."} body.
func decodeReason(r *http.Request, fallback string) (string, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return fallback, nil
	}
	var payload transitionRequest
	if err := validators.DecodeJSONBody(r, &payload); err != nil {
		return "", err
	}
	if reason := validators.SanitizeString(payload.Reason, maxReasonLen); reason != "" {
		return reason, nil
	}
	return fallback, nil
}
