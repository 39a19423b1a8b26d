// Package stripe implements the payment gateway interface against the
// processor's REST API, plus webhook signature verification and payload
// parsing for the inbound event stream.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gatewaydomain "github.com/apploom/apploom/internal/gateway/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
	tracer     trace.Tracer
}

func NewClient(baseURL, apiKey string, log *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log.Named("gateway.stripe"),
		tracer:     otel.Tracer("apploom/gateway"),
	}
}

type apiSubscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type apiSubscriptionList struct {
	Data []apiSubscription `json:"data"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) RetrieveSubscription(ctx context.Context, id string) (*gatewaydomain.Subscription, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, gatewaydomain.ErrInvalidSubscription
	}

	body, err := c.do(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var sub apiSubscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	converted := convertSubscription(sub)
	return &converted, nil
}

func (c *Client) ListActiveSubscriptions(ctx context.Context, customerID string) ([]gatewaydomain.Subscription, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, gatewaydomain.ErrInvalidSubscription
	}

	query := url.Values{}
	query.Set("customer", customerID)
	query.Set("status", "active")
	query.Set("limit", "100")

	body, err := c.do(ctx, http.MethodGet, "/v1/subscriptions?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var list apiSubscriptionList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode subscription list: %w", err)
	}

	subscriptions := make([]gatewaydomain.Subscription, 0, len(list.Data))
	for _, item := range list.Data {
		subscriptions = append(subscriptions, convertSubscription(item))
	}
	return subscriptions, nil
}

func (c *Client) CancelSubscription(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return gatewaydomain.ErrInvalidSubscription
	}

	_, err := c.do(ctx, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(id), nil)
	return err
}

func (c *Client) UpdateSubscriptionMetadata(ctx context.Context, id string, metadata map[string]string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return gatewaydomain.ErrInvalidSubscription
	}

	form := url.Values{}
	for key, value := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", key), value)
	}

	_, err := c.do(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(id), strings.NewReader(form.Encode()))
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.request", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", c.baseURL+path),
	)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "gateway unreachable")
		return nil, fmt.Errorf("%w: %v", gatewaydomain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gatewaydomain.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return payload, nil
	}

	var apiErr apiError
	_ = json.Unmarshal(payload, &apiErr)
	if resp.StatusCode == http.StatusNotFound || apiErr.Error.Code == "resource_missing" {
		return nil, gatewaydomain.ErrSubscriptionMissing
	}

	c.log.Warn("gateway call failed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("code", apiErr.Error.Code),
	)
	return nil, fmt.Errorf("gateway %s %s: status %d (%s)", method, path, resp.StatusCode, apiErr.Error.Code)
}

func convertSubscription(sub apiSubscription) gatewaydomain.Subscription {
	converted := gatewaydomain.Subscription{
		ID:         sub.ID,
		CustomerID: sub.Customer,
		Status:     sub.Status,
		Metadata:   sub.Metadata,
	}
	if sub.CurrentPeriodStart > 0 {
		converted.CurrentPeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		converted.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if len(sub.Items.Data) > 0 {
		converted.PriceID = sub.Items.Data[0].Price.ID
	}
	return converted
}
