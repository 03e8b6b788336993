package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/stitchline/storefront-backend/api/middleware"
	"github.com/stitchline/storefront-backend/api/responses"
	"github.com/stitchline/storefront-backend/internal/orders"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
	"github.com/stitchline/storefront-backend/pkg/outbox"
)

// AdminMarkProcessing moves a paid order into fulfilment.
func AdminMarkProcessing(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return adminTransition(svc, orders.EventFulfillmentStarted, "", logg)
}

// AdminMarkShipped records dispatch of a processing order.
func AdminMarkShipped(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return adminTransition(svc, orders.EventDispatched, "", logg)
}

// AdminCancelOrder cancels a pending or paid order.
func AdminCancelOrder(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return adminTransition(svc, orders.EventCancelRequested, "cancelled by staff", logg)
}

func adminTransition(svc OrderService, event orders.Event, defaultReason string, logg *logger.Logger) http.HandlerFunc {
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
		reason, err := decodeReason(r, defaultReason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := &outbox.ActorRef{Role: outbox.ActorAdmin}
		if id, err := uuid.Parse(middleware.UserIDFromContext(r.Context())); err == nil {
			actor.UserID = &id
		}

		order, err := svc.Apply(r.Context(), orders.TransitionInput{
			OrderNumber: number,
			Event:       event,
			Reason:      reason,
			Actor:       actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, orders.NewOrderView(order))
	}
}
