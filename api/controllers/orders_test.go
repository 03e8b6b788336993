package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stitchline/storefront-backend/api/middleware"
	"github.com/stitchline/storefront-backend/internal/orders"
	"github.com/stitchline/storefront-backend/pkg/db/models"
	"github.com/stitchline/storefront-backend/pkg/enums"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/outbox"
	"github.com/stitchline/storefront-backend/pkg/types"
)

type stubOrderService struct {
	order   *models.Order
	getErr  error
	applied []orders.TransitionInput
	next    enums.OrderStatus
	err     error
}

func (s *stubOrderService) GetByNumber(_ context.Context, number string) (*models.Order, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.order == nil || s.order.OrderNumber != number {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return s.order, nil
}

func (s *stubOrderService) Apply(_ context.Context, input orders.TransitionInput) (*models.Order, error) {
	s.applied = append(s.applied, input)
	if s.err != nil {
		return nil, s.err
	}
	updated := *s.order
	updated.Status = s.next
	return &updated, nil
}

func newOrderRouter(svc OrderService) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/orders/{orderNumber}", GetOrder(svc, nil))
	r.Post("/api/v1/orders/{orderNumber}/cancel", CustomerCancelOrder(svc, nil))
	r.Post("/api/admin/v1/orders/{orderNumber}/processing", AdminMarkProcessing(svc, nil))
	r.Post("/api/admin/v1/orders/{orderNumber}/ship", AdminMarkShipped(svc, nil))
	r.Post("/api/admin/v1/orders/{orderNumber}/cancel", AdminCancelOrder(svc, nil))
	return r
}

func ownedOrder(owner *uuid.UUID, status enums.OrderStatus) *models.Order {
	return &models.Order{
		ID:             uuid.New(),
		OrderNumber:    "ORD-20261018-QWERTY",
		OrderType:      enums.OrderTypeRegular,
		Status:         status,
		Currency:       enums.CurrencyNGN,
		CustomerUserID: owner,
		TotalMinor:     500000,
	}
}

func TestGetOrderReturnsProjection(t *testing.T) {
	svc := &stubOrderService{order: ownedOrder(nil, enums.OrderStatusPaid)}
	resp := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord-20261018-qwerty", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var body struct {
		Data orders.OrderView `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Status != enums.OrderStatusPaid {
		t.Fatalf("unexpected status %s", body.Data.Status)
	}

	resp = httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-20261018-NOPE00", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestCustomerCancelRequiresOwnership(t *testing.T) {
	owner := uuid.New()
	svc := &stubOrderService{order: ownedOrder(&owner, enums.OrderStatusPendingPayment), next: enums.OrderStatusCancelled}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ORD-20261018-QWERTY/cancel", nil)
	req = req.WithContext(middleware.WithIdentity(req.Context(), uuid.NewString(), "customer", ""))
	resp := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another customer's order, got %d", resp.Code)
	}
	if len(svc.applied) != 0 {
		t.Fatal("no transition should be applied")
	}
}

func TestCustomerCancelAppliesCancelEvent(t *testing.T) {
	owner := uuid.New()
	svc := &stubOrderService{order: ownedOrder(&owner, enums.OrderStatusPendingPayment), next: enums.OrderStatusCancelled}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ORD-20261018-QWERTY/cancel", strings.NewReader(`{"reason":"changed my mind"}`))
	req = req.WithContext(middleware.WithIdentity(req.Context(), owner.String(), "customer", ""))
	resp := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(svc.applied) != 1 {
		t.Fatalf("expected one transition, got %d", len(svc.applied))
	}
	input := svc.applied[0]
	if input.Event != orders.EventCancelRequested {
		t.Fatalf("unexpected event %s", input.Event)
	}
	if input.Reason != "changed my mind" {
		t.Fatalf("unexpected reason %q", input.Reason)
	}
	if input.Actor == nil || input.Actor.Role != outbox.ActorCustomer || input.Actor.UserID == nil || *input.Actor.UserID != owner {
		t.Fatalf("unexpected actor %+v", input.Actor)
	}
}

func TestCustomerCancelRequiresIdentity(t *testing.T) {
	svc := &stubOrderService{order: ownedOrder(nil, enums.OrderStatusPendingPayment)}
	resp := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/orders/ORD-20261018-QWERTY/cancel", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAdminTransitionsMapToEvents(t *testing.T) {
	cases := map[string]orders.Event{
		"processing": orders.EventFulfillmentStarted,
		"ship":       orders.EventDispatched,
		"cancel":     orders.EventCancelRequested,
	}
	for action, want := range cases {
		svc := &stubOrderService{order: ownedOrder(nil, enums.OrderStatusPaid), next: enums.OrderStatusProcessing}
		req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/orders/ord-20261018-qwerty/"+action, nil)
		req = req.WithContext(middleware.WithIdentity(req.Context(), uuid.NewString(), "admin", ""))
		resp := httptest.NewRecorder()
		newOrderRouter(svc).ServeHTTP(resp, req)

		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", action, resp.Code)
		}
		if len(svc.applied) != 1 || svc.applied[0].Event != want {
			t.Fatalf("%s: expected event %s, got %+v", action, want, svc.applied)
		}
		if svc.applied[0].OrderNumber != "ORD-20261018-QWERTY" {
			t.Fatalf("%s: order number not normalized: %q", action, svc.applied[0].OrderNumber)
		}
		if svc.applied[0].Actor.Role != outbox.ActorAdmin {
			t.Fatalf("%s: unexpected actor role %s", action, svc.applied[0].Actor.Role)
		}
	}
}

func TestAdminTransitionSurfacesStateConflict(t *testing.T) {
	svc := &stubOrderService{
		order: ownedOrder(nil, enums.OrderStatusPendingPayment),
		err:   pkgerrors.New(pkgerrors.CodeStateConflict, "cannot apply dispatched to an order that is pending_payment"),
	}
	resp := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/admin/v1/orders/ORD-20261018-QWERTY/ship", nil))
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
}

func TestGetOrderHidesCustomerDetailsFromStrangers(t *testing.T) {
	owner := uuid.New()
	order := ownedOrder(&owner, enums.OrderStatusPaid)
	order.ShippingAddress = &types.ShippingAddress{Line1: "12 Admiralty Way", City: "Lekki", State: "Lagos", Country: "NG"}
	order.Measurements = types.Measurements{"chest": decimal.NewFromInt(102)}
	svc := &stubOrderService{order: order}

	fetch := func(ctx func(context.Context) context.Context) map[string]any {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-20261018-QWERTY", nil)
		if ctx != nil {
			req = req.WithContext(ctx(req.Context()))
		}
		resp := httptest.NewRecorder()
		newOrderRouter(svc).ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
		}
		var body struct {
			Data map[string]any `json:"data"`
		}
		if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body.Data
	}

	anonymous := fetch(nil)
	for _, field := range []string{"shipping_address", "measurements", "cancel_reason"} {
		if _, ok := anonymous[field]; ok {
			t.Fatalf("anonymous view leaked %s: %v", field, anonymous[field])
		}
	}
	if anonymous["status"] != string(enums.OrderStatusPaid) || anonymous["total"] == nil {
		t.Fatalf("anonymous view lost status or totals: %v", anonymous)
	}

	stranger := fetch(func(ctx context.Context) context.Context {
		return middleware.WithIdentity(ctx, uuid.NewString(), "customer", "")
	})
	if _, ok := stranger["shipping_address"]; ok {
		t.Fatalf("another customer must not see the address")
	}

	mine := fetch(func(ctx context.Context) context.Context {
		return middleware.WithIdentity(ctx, owner.String(), "customer", "")
	})
	if _, ok := mine["shipping_address"]; !ok {
		t.Fatalf("owner should see the address")
	}
	if _, ok := mine["measurements"]; !ok {
		t.Fatalf("owner should see measurements")
	}

	admin := fetch(func(ctx context.Context) context.Context {
		return middleware.WithIdentity(ctx, uuid.NewString(), string(enums.AccountRoleAdmin), "")
	})
	if _, ok := admin["shipping_address"]; !ok {
		t.Fatalf("admin should see the address")
	}
}
