package square

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchline/storefront-backend/pkg/config"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
)

func testConfig() config.SquareConfig {
	return config.SquareConfig{
		AccessToken:         "sq-token",
		Env:                 "sandbox",
		LocationID:          "LOC1",
		WebhookSignatureKey: "Ibxx_5AKakO-3qeNVR61Dw",
		WebhookURL:          "https://webhook.site/679a4f3a-dcfa-49ee-bac5-9d0edad886b9",
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	opts := []sqoption.RequestOption{}
	if baseURL != "" {
		opts = append(opts, sqoption.WithBaseURL(baseURL))
	}
	c, err := NewClient(context.Background(), testConfig(), logger.New(logger.Options{ServiceName: "test", Output: io.Discard}), opts...)
	require.NoError(t, err)
	return c
}

func TestNewClientValidatesConfig(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	cfg := testConfig()
	cfg.Env = "staging"
	_, err := NewClient(context.Background(), cfg, logg)
	assert.ErrorIs(t, err, errInvalidSquareEnv)

	cfg = testConfig()
	cfg.LocationID = ""
	_, err = NewClient(context.Background(), cfg, logg)
	assert.ErrorIs(t, err, errLocationRequired)

	cfg = testConfig()
	cfg.WebhookSignatureKey = " "
	_, err = NewClient(context.Background(), cfg, logg)
	assert.ErrorIs(t, err, errWebhookSecretRequired)

	_, err = NewClient(context.Background(), testConfig(), nil)
	assert.ErrorIs(t, err, errLoggerRequired)
}

func TestCreatePaymentLink(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/online-checkout/payment-links", r.URL.Path)
		assert.Equal(t, "Bearer sq-token", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"payment_link":{"id":"PL1","version":1,"order_id":"SQORDER1","url":"https://square.link/u/abc"}}`)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	link, err := c.CreatePaymentLink(context.Background(), PaymentLinkParams{
		ReferenceID: "ORD-20261018-ABCDEF",
		Description: "Order ORD-20261018-ABCDEF",
		AmountMinor: 1612554,
		Currency:    "ngn",
		BuyerEmail:  "chiamaka@example.com",
		RedirectURL: "https://shop.example/orders/confirmation",
	})
	require.NoError(t, err)
	assert.Equal(t, "SQORDER1", link.OrderID)
	assert.Equal(t, "https://square.link/u/abc", link.URL)

	order := captured["order"].(map[string]any)
	assert.Equal(t, "LOC1", order["location_id"])
	assert.Equal(t, "ORD-20261018-ABCDEF", order["reference_id"])
	item := order["line_items"].([]any)[0].(map[string]any)
	price := item["base_price_money"].(map[string]any)
	assert.EqualValues(t, 1612554, price["amount"])
	assert.Equal(t, "NGN", price["currency"])
	assert.True(t, strings.HasPrefix(captured["idempotency_key"].(string), "payment-link-"))
}

func TestCreatePaymentLinkRejectsBadInput(t *testing.T) {
	c := newTestClient(t, "")
	_, err := c.CreatePaymentLink(context.Background(), PaymentLinkParams{ReferenceID: "ORD-1", AmountMinor: 0, Currency: "NGN"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = c.CreatePaymentLink(context.Background(), PaymentLinkParams{ReferenceID: "ORD-1", AmountMinor: 100, Currency: "XXX1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestGetOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/orders/SQORDER1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"order":{"id":"SQORDER1","location_id":"LOC1","reference_id":"ORD-1","state":"COMPLETED","total_money":{"amount":5000,"currency":"NGN"},"net_amount_due_money":{"amount":0,"currency":"NGN"}}}`)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	status, err := c.GetOrder(context.Background(), "SQORDER1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", status.State)
	assert.Equal(t, "ORD-1", status.ReferenceID)
	assert.Equal(t, int64(5000), status.TotalMinor)
	assert.Equal(t, int64(5000), status.AmountPaidMinor)
	assert.Equal(t, "NGN", status.Currency)
}

func TestGetOrderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"NOT_FOUND"}]}`)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	_, err := c.GetOrder(context.Background(), "missing")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestEnsureIdempotencyKey(t *testing.T) {
	c := &Client{}
	assert.Equal(t, "custom-key", c.ensureIdempotencyKey("pref", "custom-key"))
	assert.True(t, strings.HasPrefix(c.ensureIdempotencyKey("prefix", ""), "prefix-"))
}

func TestRedact(t *testing.T) {
	c := &Client{}
	assert.Equal(t, "[REDACTED]", c.redact("buyer_email", "a@b.c"))
	assert.Equal(t, "ok", c.redact("status", "ok"))
}

func TestDomainCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusUnauthorized, pkgerrors.CodeGateway},
		{http.StatusForbidden, pkgerrors.CodeGateway},
		{http.StatusBadRequest, pkgerrors.CodeGateway},
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusConflict, pkgerrors.CodeConflict},
		{http.StatusTooManyRequests, pkgerrors.CodeDependency},
		{http.StatusInternalServerError, pkgerrors.CodeDependency},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, domainCodeForStatus(tt.status), "status %d", tt.status)
	}
}

func TestMapSquareError(t *testing.T) {
	c := &Client{}
	table := []struct {
		name     string
		err      error
		wantCode pkgerrors.Code
	}{
		{
			name:     "authentication error",
			err:      sqcore.NewAPIError(http.StatusUnauthorized, errors.New(`{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`)),
			wantCode: pkgerrors.CodeGateway,
		},
		{
			name:     "idempotency key reused",
			err:      sqcore.NewAPIError(http.StatusConflict, errors.New(`{"errors":[{"category":"API_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`)),
			wantCode: pkgerrors.CodeIdempotency,
		},
		{
			name:     "timeout",
			err:      context.DeadlineExceeded,
			wantCode: pkgerrors.CodeDependency,
		},
	}
	for _, tt := range table {
		mapped := c.mapSquareError(tt.err, "operation")
		typed := pkgerrors.As(mapped)
		require.NotNil(t, typed, tt.name)
		assert.Equal(t, tt.wantCode, typed.Code(), tt.name)
	}
}

func TestExtractSquareErrors(t *testing.T) {
	c := &Client{}
	payload := `{"errors":[{"category":"API_ERROR","code":"BAD_REQUEST","detail":"oops"}]}`
	got := c.extractSquareErrors(sqcore.NewAPIError(http.StatusBadRequest, errors.New(payload)))
	require.Len(t, got, 1)
	assert.Equal(t, sq.ErrorCodeBadRequest, got[0].GetCode())
}
