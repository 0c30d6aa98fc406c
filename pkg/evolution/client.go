package evolution

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
	"time"

	"whatslog/internal/retry"
	"whatslog/pkg/circuitbreaker"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultIntegration = "WHATSAPP-BAILEYS"
	maxErrorBodyLen    = 512
	maxResponseBytes   = 4 << 20

	// EventMessagesUpsert is the only event subscribed by SetWebhook.
	EventMessagesUpsert = "MESSAGES_UPSERT"
)

// Gateway is the subset of the Evolution API used by the instance lifecycle.
type Gateway interface {
	CreateInstance(ctx context.Context, name string) (*CreateInstanceResponse, error)
	FetchQR(ctx context.Context, name string) (*QRCode, error)
	ConnectionState(ctx context.Context, name string) (*ConnectionState, error)
	SetWebhook(ctx context.Context, name, webhookURL string, headers map[string]string) error
	Logout(ctx context.Context, name string) error
	DeleteInstance(ctx context.Context, name string) error
	SendText(ctx context.Context, name string, req SendTextRequest) (*SendTextResponse, error)
	FetchInstances(ctx context.Context) ([]InstanceInfo, error)
}

type Client struct {
	baseURL     string
	apiKey      string
	integration string
	client      *http.Client
	tracer      trace.Tracer
	backoff     *retry.Backoff
	breaker     *circuitbreaker.Breaker
}

var _ Gateway = (*Client)(nil)

func NewClient(config Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("evolution base URL is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid evolution base URL: %w", err)
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("evolution API key is required")
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	integration := config.Integration
	if integration == "" {
		integration = defaultIntegration
	}

	return &Client{
		baseURL:     baseURL,
		apiKey:      config.APIKey,
		integration: integration,
		client:      &http.Client{Timeout: timeout},
		tracer:      otel.Tracer("whatslog/evolution"),
		backoff:     retry.NewBackoff(config.Retry),
		breaker:     config.Breaker,
	}, nil
}

func (c *Client) CreateInstance(ctx context.Context, name string) (*CreateInstanceResponse, error) {
	body := createInstanceRequest{
		InstanceName: name,
		QRCode:       true,
		Integration:  c.integration,
	}

	var resp CreateInstanceResponse
	if err := c.do(ctx, "create_instance", http.MethodPost, "/instance/create", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) FetchQR(ctx context.Context, name string) (*QRCode, error) {
	var qr QRCode
	if err := c.get(ctx, "fetch_qr", "/instance/connect/"+url.PathEscape(name), &qr); err != nil {
		return nil, err
	}
	return &qr, nil
}

func (c *Client) ConnectionState(ctx context.Context, name string) (*ConnectionState, error) {
	var state ConnectionState
	if err := c.get(ctx, "connection_state", "/instance/connectionState/"+url.PathEscape(name), &state); err != nil {
		return nil, err
	}
	if state.InstanceName == "" {
		state.InstanceName = name
	}
	return &state, nil
}

func (c *Client) SetWebhook(ctx context.Context, name, webhookURL string, headers map[string]string) error {
	body := setWebhookRequest{Webhook: WebhookConfig{
		Enabled:         true,
		URL:             webhookURL,
		WebhookByEvents: false,
		WebhookBase64:   false,
		Events:          []string{EventMessagesUpsert},
		Headers:         headers,
	}}
	return c.do(ctx, "set_webhook", http.MethodPost, "/webhook/set/"+url.PathEscape(name), body, nil)
}

func (c *Client) Logout(ctx context.Context, name string) error {
	return c.do(ctx, "logout", http.MethodDelete, "/instance/logout/"+url.PathEscape(name), nil, nil)
}

func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	return c.do(ctx, "delete_instance", http.MethodDelete, "/instance/delete/"+url.PathEscape(name), nil, nil)
}

func (c *Client) SendText(ctx context.Context, name string, req SendTextRequest) (*SendTextResponse, error) {
	var resp SendTextResponse
	if err := c.do(ctx, "send_text", http.MethodPost, "/message/sendText/"+url.PathEscape(name), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) FetchInstances(ctx context.Context) ([]InstanceInfo, error) {
	var instances []InstanceInfo
	if err := c.get(ctx, "fetch_instances", "/instance/fetchInstances", &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// get retries idempotent reads on transient gateway failures.
func (c *Client) get(ctx context.Context, operation, path string, out interface{}) error {
	return c.backoff.RetryIf(ctx, func() error {
		return c.do(ctx, operation, http.MethodGet, path, nil, out)
	}, IsRetryable)
}

// do sends one request through the breaker when one is configured. Calls
// rejected by an open breaker never reach the gateway.
func (c *Client) do(ctx context.Context, operation, method, path string, payload, out interface{}) error {
	if c.breaker == nil {
		return c.roundTrip(ctx, operation, method, path, payload, out)
	}
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, operation, method, path, payload, out)
	})
}

func (c *Client) roundTrip(ctx context.Context, operation, method, path string, payload, out interface{}) (err error) {
	ctx, span := c.tracer.Start(ctx, "evolution."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("evolution.operation", operation),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var body io.Reader
	if payload != nil {
		data, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", operation, marshalErr)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", operation, err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &GatewayError{Operation: operation, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &GatewayError{Operation: operation, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &GatewayError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, respBody),
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &GatewayError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Message:    "invalid response body",
			Err:        errors.Join(errInvalidResponse, err),
		}
	}
	return nil
}

var errInvalidResponse = errors.New("invalid gateway response")
