package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqcheckout "github.com/square/square-go-sdk/checkout"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/stitchline/storefront-backend/pkg/config"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var (
	errAccessTokenRequired   = errors.New("square access token is required")
	errLocationRequired      = errors.New("square location id is required")
	errWebhookSecretRequired = errors.New("square webhook signature key is required")
	errInvalidSquareEnv      = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired        = errors.New("square logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// Client exposes the Square checkout primitives with centralized auth, logging, idempotency, and error mapping.
type Client struct {
	sdk             *sqclient.Client
	environment     string
	locationID      string
	webhookSecret   string
	notificationURL string
	baseURL         string
	logger          *logger.Logger
}

// NewClient initializes the Square wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger, opts ...sqoption.RequestOption) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Env)
	if err != nil {
		return nil, err
	}

	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}
	locationID := strings.TrimSpace(cfg.LocationID)
	if locationID == "" {
		return nil, errLocationRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSignatureKey)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	baseURL := baseURLs[env]
	sdkOpts := append([]sqoption.RequestOption{
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(accessToken),
	}, opts...)

	c := &Client{
		sdk:             sqclient.NewClient(sdkOpts...),
		environment:     env,
		locationID:      locationID,
		webhookSecret:   webhookSecret,
		notificationURL: strings.TrimSpace(cfg.WebhookURL),
		baseURL:         baseURL,
		logger:          logg,
	}

	logg.Info(ctx, "square client initialized")
	return c, nil
}

// Environment reports the normalized Square environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// NewIdempotencyKey returns a unique key for Square operations.
func (c *Client) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "sl"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// PaymentLinkParams describes a hosted checkout for one storefront order.
type PaymentLinkParams struct {
	ReferenceID    string
	Description    string
	AmountMinor    int64
	Currency       string
	BuyerEmail     string
	RedirectURL    string
	IdempotencyKey string
}

// PaymentLink is the hosted checkout Square created. OrderID is the Square
// order the link collects against and doubles as the payment reference.
type PaymentLink struct {
	ID      string
	OrderID string
	URL     string
}

// CreatePaymentLink creates a hosted checkout page for a single-line order
// whose reference id is the storefront order number.
func (c *Client) CreatePaymentLink(ctx context.Context, params PaymentLinkParams) (*PaymentLink, error) {
	if params.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	currency, err := sq.NewCurrencyFromString(strings.ToUpper(strings.TrimSpace(params.Currency)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency")
	}

	name := params.Description
	if name == "" {
		name = params.ReferenceID
	}
	req := &sqcheckout.CreatePaymentLinkRequest{
		IdempotencyKey: sq.String(c.ensureIdempotencyKey("payment-link", params.IdempotencyKey)),
		Description:    sq.String(params.Description),
		Order: &sq.Order{
			LocationID:  c.locationID,
			ReferenceID: sq.String(params.ReferenceID),
			LineItems: []*sq.OrderLineItem{{
				Name:     sq.String(name),
				Quantity: "1",
				BasePriceMoney: &sq.Money{
					Amount:   sq.Int64(params.AmountMinor),
					Currency: currency.Ptr(),
				},
			}},
		},
	}
	if params.RedirectURL != "" {
		req.CheckoutOptions = &sq.CheckoutOptions{RedirectURL: sq.String(params.RedirectURL)}
	}
	if params.BuyerEmail != "" {
		req.PrePopulatedData = &sq.PrePopulatedData{BuyerEmail: sq.String(params.BuyerEmail)}
	}

	c.log(ctx, "request", "create_payment_link", map[string]any{
		"reference_id": params.ReferenceID,
		"amount":       params.AmountMinor,
		"buyer_email":  params.BuyerEmail,
	})

	resp, err := c.sdk.Checkout.PaymentLinks.Create(ctx, req)
	if err != nil {
		c.log(ctx, "error", "create_payment_link", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "create payment link")
	}

	link := resp.GetPaymentLink()
	if link == nil || stringValue(link.GetURL()) == "" || stringValue(link.GetOrderID()) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "square returned an incomplete payment link")
	}
	out := &PaymentLink{
		ID:      stringValue(link.GetID()),
		OrderID: stringValue(link.GetOrderID()),
		URL:     stringValue(link.GetURL()),
	}
	c.log(ctx, "response", "create_payment_link", map[string]any{
		"payment_link_id": out.ID,
		"order_id":        out.OrderID,
	})
	return out, nil
}

// OrderStatus is the settlement picture of a Square order.
type OrderStatus struct {
	OrderID         string
	ReferenceID     string
	State           string
	TotalMinor      int64
	AmountPaidMinor int64
	Currency        string
}

// GetOrder fetches a Square order and derives how much of it has been paid.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square order id is required")
	}
	c.log(ctx, "request", "get_order", map[string]any{"order_id": id})

	resp, err := c.sdk.Orders.Get(ctx, &sq.GetOrdersRequest{OrderID: id})
	if err != nil {
		c.log(ctx, "error", "get_order", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "get order")
	}
	order := resp.GetOrder()
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "square order not found")
	}

	status := &OrderStatus{
		OrderID:     id,
		ReferenceID: stringValue(order.GetReferenceID()),
		TotalMinor:  moneyAmount(order.GetTotalMoney()),
		Currency:    moneyCurrency(order.GetTotalMoney()),
	}
	if state := order.GetState(); state != nil {
		status.State = string(*state)
	}
	status.AmountPaidMinor = status.TotalMinor - moneyAmount(order.GetNetAmountDueMoney())
	if status.AmountPaidMinor < 0 {
		status.AmountPaidMinor = 0
	}

	c.log(ctx, "response", "get_order", map[string]any{
		"order_id": id,
		"state":    status.State,
	})
	return status, nil
}

func (c *Client) ensureIdempotencyKey(prefix, provided string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return c.NewIdempotencyKey(prefix)
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("square %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("square %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "nonce", "token", "secret", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func (c *Client) mapSquareError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		code := domainCodeForStatus(apiErr.StatusCode)
		for _, sqErr := range c.extractSquareErrors(apiErr) {
			if sqErr == nil {
				continue
			}
			if sqErr.Code == sq.ErrorCodeIdempotencyKeyReused {
				code = pkgerrors.CodeIdempotency
				break
			}
			if sqErr.Category == sq.ErrorCategoryAuthenticationError {
				code = pkgerrors.CodeGateway
				break
			}
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("square %s failed", op))
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("square %s timed out", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("square %s failed", op))
}

func (c *Client) extractSquareErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil {
		return nil
	}
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

// domainCodeForStatus maps Square HTTP statuses. Credential and request
// rejections are gateway errors; throttling and outages are dependency errors.
func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeDependency
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeGateway
		}
		return pkgerrors.CodeDependency
	}
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func moneyAmount(m *sq.Money) int64 {
	if m == nil || m.GetAmount() == nil {
		return 0
	}
	return *m.GetAmount()
}

func moneyCurrency(m *sq.Money) string {
	if m == nil || m.GetCurrency() == nil {
		return ""
	}
	return string(*m.GetCurrency())
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	default:
		return "", errInvalidSquareEnv
	}
}
