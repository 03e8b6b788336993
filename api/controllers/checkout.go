package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/stitchline/storefront-backend/api/middleware"
	"github.com/stitchline/storefront-backend/api/responses"
	"github.com/stitchline/storefront-backend/api/validators"
	checkoutsvc "github.com/stitchline/storefront-backend/internal/checkout"
	"github.com/stitchline/storefront-backend/internal/orders"
	cartrules "github.com/stitchline/storefront-backend/pkg/checkout"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
	"github.com/stitchline/storefront-backend/pkg/types"
)

const maxNotesLen = 1000

// Checkout prices the cart, reserves stock, and opens a payment session.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		customer, err := payload.Customer.toCustomer(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]cartrules.LineInput, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			lines = append(lines, cartrules.LineInput{VariantID: line.VariantID, Quantity: line.Quantity})
		}

		result, err := svc.Checkout(r.Context(), checkoutsvc.Request{
			Lines:            lines,
			ShippingLocation: payload.ShippingLocation,
			ShippingAddress:  payload.ShippingAddress,
			Customer:         customer,
			Notes:            validators.SanitizeText(payload.Notes, maxNotesLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCheckoutResponse(result))
	}
}

// MeasurementCheckout places a made-to-measure order for a single variant.
func MeasurementCheckout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload measurementRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		customer, err := payload.Customer.toCustomer(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.SubmitMeasurementOrder(r.Context(), checkoutsvc.MeasurementRequest{
			VariantID:        payload.VariantID,
			Quantity:         payload.Quantity,
			Measurements:     payload.Measurements,
			StyleNotes:       validators.SanitizeText(payload.StyleNotes, maxNotesLen),
			ShippingLocation: payload.ShippingLocation,
			ShippingAddress:  payload.ShippingAddress,
			Customer:         customer,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCheckoutResponse(result))
	}
}

type checkoutLineRequest struct {
	VariantID uuid.UUID `json:"variant_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
}

type customerRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Phone string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// toCustomer binds signed-in shoppers to their account. Guests must send an email.
func (c customerRequest) toCustomer(r *http.Request) (checkoutsvc.Customer, error) {
	customer := checkoutsvc.Customer{
		Name:  c.Name,
		Email: c.Email,
		Phone: c.Phone,
	}
	if identity, ok := middleware.IdentityFromContext(r.Context()); ok {
		userID, err := uuid.Parse(identity.UserID)
		if err != nil {
			return customer, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
		}
		customer.UserID = &userID
		if customer.Email == "" {
			customer.Email = identity.Email
		}
	}
	if customer.Email == "" {
		return customer, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"customer.email": "is required"})
	}
	return customer, nil
}

type checkoutRequest struct {
	Lines            []checkoutLineRequest  `json:"lines" validate:"required,min=1,dive"`
	ShippingLocation string                 `json:"shipping_location" validate:"required,max=100"`
	ShippingAddress  *types.ShippingAddress `json:"shipping_address,omitempty" validate:"omitempty"`
	Customer         customerRequest        `json:"customer"`
	Notes            string                 `json:"notes,omitempty"`
}

type measurementRequest struct {
	VariantID        uuid.UUID              `json:"variant_id" validate:"required"`
	Quantity         int                    `json:"quantity,omitempty" validate:"gte=0,max=10"`
	Measurements     types.Measurements     `json:"measurements" validate:"required,min=1"`
	StyleNotes       string                 `json:"style_notes,omitempty"`
	ShippingLocation string                 `json:"shipping_location" validate:"required,max=100"`
	ShippingAddress  *types.ShippingAddress `json:"shipping_address,omitempty" validate:"omitempty"`
	Customer         customerRequest        `json:"customer"`
}

type checkoutResponse struct {
	OrderNumber       string            `json:"order_number"`
	Status            string            `json:"status"`
	PaymentProvider   string            `json:"payment_provider"`
	PaymentReference  string            `json:"payment_reference"`
	PaymentSessionURL string            `json:"payment_session_url"`
	ExpiresAt         time.Time         `json:"expires_at"`
	Order             *orders.OrderView `json:"order,omitempty"`
}

func newCheckoutResponse(result *checkoutsvc.Result) checkoutResponse {
	if result == nil {
		return checkoutResponse{}
	}
	resp := checkoutResponse{
		OrderNumber:       result.OrderNumber,
		PaymentProvider:   result.PaymentProvider,
		PaymentReference:  result.PaymentReference,
		PaymentSessionURL: result.PaymentSessionURL,
		ExpiresAt:         result.ExpiresAt,
	}
	if result.Order != nil {
		view := orders.NewOrderView(result.Order)
		resp.Status = string(view.Status)
		resp.Order = &view
	}
	return resp
}
