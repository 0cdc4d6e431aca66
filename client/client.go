// Package client implements the typed HTTP client for the escrow payment
// service. Every method performs exactly one round trip and surfaces failures
// synchronously; retry policy is left to the caller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/agentpay-network/agentpay-go/errors"
	"github.com/agentpay-network/agentpay-go/pkg/logger"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 30 * time.Second

// Observer receives the outcome of each service round trip. Implemented by
// the metrics package; a nil observer disables instrumentation.
type Observer interface {
	ObserveRequest(endpoint, method string, status int, duration time.Duration)
}

// Client wraps the HTTP interactions with the payment service REST API.
// Authentication uses a static API key sent in the `token` header.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
	observer   Observer
}

// Option configures optional client behaviour.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithLogger replaces the default component logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithObserver attaches a request observer.
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// New creates a client for the payment service at rawURL.
func New(rawURL, apiKey string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "invalid payment service url")
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("payment service url %q is not absolute", rawURL))
	}
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "payment api key is empty")
	}
	c := &Client{
		baseURL:    parsed,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		log:        logger.Named("client"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// CreatePayment registers a seller's escrow terms with the service.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResponse, error) {
	var resp CreatePaymentResponse
	if err := c.Call(ctx, http.MethodPost, "/payment/", nil, req, &resp); err != nil {
		return nil, err
	}
	if resp.BlockchainIdentifier == "" {
		return nil, xerrors.New(xerrors.CodeProtocol, "payment response missing blockchainIdentifier")
	}
	return &resp, nil
}

// ListPayments fetches the batch status projection for all payments visible
// to the API key on the given network and contract.
func (c *Client) ListPayments(ctx context.Context, network, contractAddress string, limit int) (*PaymentList, error) {
	query := url.Values{}
	if network != "" {
		query.Set("network", network)
	}
	if contractAddress != "" {
		query.Set("paymentContractAddress", contractAddress)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp PaymentList
	if err := c.Call(ctx, http.MethodGet, "/payment/", query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPayment fetches the status snapshot of a single payment record by its
// blockchain identifier.
func (c *Client) GetPayment(ctx context.Context, id, network, contractAddress string) (*StatusSnapshot, error) {
	if id == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "blockchain identifier is empty")
	}
	query := url.Values{}
	if network != "" {
		query.Set("network", network)
	}
	if contractAddress != "" {
		query.Set("paymentContractAddress", contractAddress)
	}
	var resp StatusSnapshot
	if err := c.Call(ctx, http.MethodGet, "/payment/"+url.PathEscape(id), query, nil, &resp); err != nil {
		return nil, err
	}
	if resp.BlockchainIdentifier == "" {
		return nil, xerrors.New(xerrors.CodeProtocol, "status response missing blockchainIdentifier")
	}
	return &resp, nil
}

// SubmitResult attaches the seller's output hash to a payment, moving the
// escrow record toward settlement.
func (c *Client) SubmitResult(ctx context.Context, req SubmitResultRequest) (*SubmitResultResponse, error) {
	var resp SubmitResultResponse
	if err := c.Call(ctx, http.MethodPatch, "/payment/", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreatePurchase locks a buyer's funds against an existing payment record.
func (c *Client) CreatePurchase(ctx context.Context, req CreatePurchaseRequest) (*CreatePurchaseResponse, error) {
	var resp CreatePurchaseResponse
	if err := c.Call(ctx, http.MethodPost, "/purchase/", nil, req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, xerrors.New(xerrors.CodeProtocol, "purchase response missing id")
	}
	return &resp, nil
}

// RequestRefund asks the service to start the refund flow for a purchase.
func (c *Client) RequestRefund(ctx context.Context, req RefundRequest) (*RefundResponse, error) {
	var resp RefundResponse
	if err := c.Call(ctx, http.MethodPatch, "/purchase/", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// envelope is the service's uniform response wrapper.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// Call performs one authenticated round trip: encode, send with the `token`
// header, map non-2xx statuses to the error taxonomy, unwrap the success
// envelope into out. The registry client reuses it against its own base URL.
func (c *Client) Call(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeValidation, err, "encode request")
		}
		body = bytes.NewReader(encoded)
	}

	target := *c.baseURL
	target.Path = strings.TrimRight(c.baseURL.Path, "/") + endpoint
	if query != nil {
		target.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "create request")
	}
	req.Header.Set("token", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	requestID := uuid.NewString()
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(endpoint, method, 0, started)
		return xerrors.Wrap(xerrors.CodeServer, err, "perform request",
			xerrors.WithMetadata("request_id", requestID))
	}
	defer resp.Body.Close()
	c.observe(endpoint, method, resp.StatusCode, started)

	c.log.Debug("service call",
		slog.String("request_id", requestID),
		slog.String("method", method),
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp, requestID)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeProtocol, err, "read response")
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return xerrors.Wrap(xerrors.CodeProtocol, err, "decode response envelope",
			xerrors.WithMetadata("request_id", requestID))
	}
	if env.Status != "" && env.Status != "success" {
		return xerrors.New(xerrors.CodeProtocol, fmt.Sprintf("unexpected response status %q", env.Status),
			xerrors.WithMetadata("request_id", requestID))
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 {
		return xerrors.New(xerrors.CodeProtocol, "response missing data",
			xerrors.WithMetadata("request_id", requestID))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return xerrors.Wrap(xerrors.CodeProtocol, err, "decode response data",
			xerrors.WithMetadata("request_id", requestID))
	}
	return nil
}

// statusError maps a non-2xx response to the SDK error taxonomy: 400 is a
// rejected request, 401 an auth failure, 5xx a transient service failure.
func (c *Client) statusError(resp *http.Response, requestID string) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(detail))

	var code xerrors.Code
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		code = xerrors.CodeClient
	case resp.StatusCode == http.StatusUnauthorized:
		code = xerrors.CodeAuth
	case resp.StatusCode >= 500:
		code = xerrors.CodeServer
	default:
		code = xerrors.CodeUnknown
	}
	return xerrors.New(code, message,
		xerrors.WithHTTPStatus(resp.StatusCode),
		xerrors.WithMetadata("request_id", requestID))
}

func (c *Client) observe(endpoint, method string, status int, started time.Time) {
	if c.observer != nil {
		c.observer.ObserveRequest(endpoint, method, status, time.Since(started))
	}
}
