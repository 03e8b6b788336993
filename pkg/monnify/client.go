package monnify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/stitchline/storefront-backend/pkg/config"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
)

const (
	loginPath = "/api/v1/auth/login"
	initPath  = "/api/v1/merchant/transactions/init-transaction"
	queryPath = "/api/v2/merchant/transactions/query"

	tokenRefreshMargin          = 60 * time.Second
	responseBodyReadLimit int64 = 2048
	defaultHTTPTimeout          = 10 * time.Second
	baseRetryDelay              = 200 * time.Millisecond
	maxRetryDelay               = 2 * time.Second
)

var (
	errAPIKeyRequired       = errors.New("monnify api key is required")
	errSecretKeyRequired    = errors.New("monnify secret key is required")
	errContractCodeRequired = errors.New("monnify contract code is required")
)

// Client talks to the Monnify collections API. Access tokens are cached until
// shortly before they expire.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	secretKey    string
	contractCode string
	countryCode  string
	maxRetries   uint64
	backoff      func(maxRetries uint64) retry.Backoff
	logger       *logger.Logger
	now          func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// WithBackoff overrides the retry schedule for transient failures.
func WithBackoff(fn func(maxRetries uint64) retry.Backoff) Option {
	return func(c *Client) {
		if fn != nil {
			c.backoff = fn
		}
	}
}

// WithClock overrides the clock used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient validates credentials and builds the client.
func NewClient(cfg config.MonnifyConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errSecretKeyRequired
	}
	contract := strings.TrimSpace(cfg.ContractCode)
	if contract == "" {
		return nil, errContractCodeRequired
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	country := strings.TrimSpace(cfg.CountryCode)
	if country == "" {
		country = "234"
	}

	c := &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:       apiKey,
		secretKey:    secret,
		contractCode: contract,
		countryCode:  country,
		maxRetries:   cfg.MaxRetries,
		backoff:      defaultBackoff,
		logger:       logg,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.baseURL == "" {
		return nil, errors.New("monnify base url is required")
	}
	return c, nil
}

func defaultBackoff(maxRetries uint64) retry.Backoff {
	b := retry.NewExponential(baseRetryDelay)
	b = retry.WithCappedDuration(maxRetryDelay, b)
	b = retry.WithJitterPercent(10, b)
	return retry.WithMaxRetries(maxRetries, b)
}

// InitTransactionRequest is the hosted checkout request.
type InitTransactionRequest struct {
	AmountMinor      int64
	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
	PaymentReference string
	Description      string
	CurrencyCode     string
	RedirectURL      string
	PaymentMethods   []string
}

// InitTransactionResponse carries the hosted checkout handle.
type InitTransactionResponse struct {
	TransactionReference string `json:"transactionReference"`
	PaymentReference     string `json:"paymentReference"`
	CheckoutURL          string `json:"checkoutUrl"`
}

// Transaction is the status Monnify reports for a payment reference.
type Transaction struct {
	TransactionReference string          `json:"transactionReference"`
	PaymentReference     string          `json:"paymentReference"`
	PaymentStatus        string          `json:"paymentStatus"`
	AmountPaid           decimal.Decimal `json:"amountPaid"`
	TotalPayable         decimal.Decimal `json:"totalPayable"`
	CurrencyCode         string          `json:"currencyCode"`
	PaidOn               string          `json:"paidOn"`
}

// AmountPaidMinor converts the major-unit amount Monnify reports to minor units.
func (t Transaction) AmountPaidMinor() int64 {
	return toMinor(t.AmountPaid)
}

type envelope struct {
	RequestSuccessful bool            `json:"requestSuccessful"`
	ResponseMessage   string          `json:"responseMessage"`
	ResponseCode      string          `json:"responseCode"`
	ResponseBody      json.RawMessage `json:"responseBody"`
}

// InitTransaction creates a hosted checkout session.
func (c *Client) InitTransaction(ctx context.Context, req InitTransactionRequest) (*InitTransactionResponse, error) {
	if strings.TrimSpace(req.PaymentReference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	if req.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	payload := map[string]any{
		"amount":             decimal.New(req.AmountMinor, -2).StringFixed(2),
		"customerName":       req.CustomerName,
		"customerEmail":      req.CustomerEmail,
		"paymentReference":   req.PaymentReference,
		"paymentDescription": req.Description,
		"currencyCode":       req.CurrencyCode,
		"contractCode":       c.contractCode,
		"redirectUrl":        req.RedirectURL,
	}
	if len(req.PaymentMethods) > 0 {
		payload["paymentMethods"] = req.PaymentMethods
	}
	if phone := NormalizePhone(req.CustomerPhone, c.countryCode); phone != "" {
		payload["customerPhoneNumber"] = phone
	}

	c.log(ctx, "init_transaction", map[string]any{
		"payment_reference": req.PaymentReference,
		"amount_minor":      req.AmountMinor,
		"customer_email":    req.CustomerEmail,
	})

	var out InitTransactionResponse
	if err := c.call(ctx, http.MethodPost, initPath, payload, &out); err != nil {
		return nil, err
	}
	if out.CheckoutURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "monnify returned no checkout url")
	}
	if out.PaymentReference == "" {
		out.PaymentReference = req.PaymentReference
	}
	return &out, nil
}

// QueryTransaction fetches the authoritative status for a payment reference.
func (c *Client) QueryTransaction(ctx context.Context, paymentReference string) (*Transaction, error) {
	ref := strings.TrimSpace(paymentReference)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	path := queryPath + "?paymentReference=" + url.QueryEscape(ref)
	var out Transaction
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, method, path string, payload any, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal monnify request")
		}
	}

	// A token revoked before its expiry gets one fresh login per call.
	relogged := false
	err := retry.Do(ctx, c.backoff(c.maxRetries), func(ctx context.Context) error {
		for {
			token, err := c.accessToken(ctx)
			if err != nil {
				return err
			}
			status, raw, err := c.do(ctx, method, path, body, "Bearer "+token)
			if err != nil {
				return err
			}
			if status == http.StatusUnauthorized {
				c.invalidateToken(token)
				if !relogged {
					relogged = true
					continue
				}
			}
			return decodeEnvelope(status, raw, out)
		}
	})
	if err != nil {
		return classify(err, path)
	}
	return nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	status, raw, err := c.do(ctx, http.MethodPost, loginPath, nil, basicAuth(c.apiKey, c.secretKey))
	if err != nil {
		return "", err
	}
	var login struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int64  `json:"expiresIn"`
	}
	if err := decodeEnvelope(status, raw, &login); err != nil {
		return "", err
	}
	if login.AccessToken == "" {
		return "", &gatewayError{status: status, message: "login returned no access token"}
	}
	c.token = login.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(login.ExpiresIn)*time.Second - tokenRefreshMargin)
	return c.token, nil
}

func (c *Client) invalidateToken(token string) {
	c.mu.Lock()
	if c.token == token {
		c.token = ""
	}
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, authorization string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, retry.RetryableError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, retry.RetryableError(err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return 0, nil, retry.RetryableError(&gatewayError{status: resp.StatusCode, message: snippet(raw)})
	}
	return resp.StatusCode, raw, nil
}

func decodeEnvelope(status int, raw []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &gatewayError{status: status, message: "malformed response: " + snippet(raw)}
	}
	if status >= http.StatusBadRequest || !env.RequestSuccessful {
		return &gatewayError{status: status, code: env.ResponseCode, message: env.ResponseMessage}
	}
	if out == nil || len(env.ResponseBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.ResponseBody, out); err != nil {
		return &gatewayError{status: status, message: "malformed response body: " + err.Error()}
	}
	return nil
}

// gatewayError is a non-transport failure reported by Monnify.
type gatewayError struct {
	status  int
	code    string
	message string
}

func (e *gatewayError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("monnify status %d code %s: %s", e.status, e.code, e.message)
	}
	return fmt.Sprintf("monnify status %d: %s", e.status, e.message)
}

// classify maps failures onto the error taxonomy. Credential and request
// rejections are configuration problems; transport and 5xx are dependency outages.
func classify(err error, path string) error {
	op := "monnify " + strings.SplitN(path, "?", 2)[0]
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op+" timed out")
	}
	var gwErr *gatewayError
	if errors.As(err, &gwErr) {
		switch {
		case gwErr.status == http.StatusNotFound:
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, op+": transaction not found")
		case gwErr.status >= http.StatusInternalServerError || gwErr.status == http.StatusTooManyRequests:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op+" unavailable")
		default:
			return pkgerrors.Wrap(pkgerrors.CodeGateway, err, op+" rejected")
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op+" failed")
}

func (c *Client) log(ctx context.Context, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{"operation": op}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	c.logger.Info(c.logger.WithFields(ctx, logFields), "monnify request")
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"token", "secret", "key", "email", "phone", "authorization"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func snippet(raw []byte) string {
	if int64(len(raw)) > responseBodyReadLimit {
		raw = raw[:responseBodyReadLimit]
	}
	return strings.TrimSpace(string(raw))
}

func toMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// NormalizePhone converts local numbers like 08031234567 to 2348031234567.
// Anything that is not a plausible phone number is dropped.
func NormalizePhone(raw, countryCode string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	phone := digits.String()
	switch {
	case phone == "":
		return ""
	case strings.HasPrefix(phone, countryCode):
	case strings.HasPrefix(phone, "0"):
		phone = countryCode + phone[1:]
	default:
		phone = countryCode + phone
	}
	if len(phone) < 12 || len(phone) > 15 {
		return ""
	}
	return phone
}
