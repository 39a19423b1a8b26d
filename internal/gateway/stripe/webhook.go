package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gatewaydomain "github.com/apploom/apploom/internal/gateway/domain"
	reconciliationdomain "github.com/apploom/apploom/internal/reconciliation/domain"
	"github.com/bwmarrin/snowflake"
)

// Webhook verifies and parses inbound gateway deliveries into the
// normalized event stream.
type Webhook struct {
	secret string
}

func NewWebhook(secret string) *Webhook {
	return &Webhook{secret: strings.TrimSpace(secret)}
}

// Verify checks the signature header against the raw request body. The
// header carries a timestamp and one or more v1 signatures over
// "<timestamp>.<body>".
func (w *Webhook) Verify(payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return gatewaydomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return gatewaydomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(w.secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return gatewaydomain.ErrInvalidSignature
}

// Parse normalizes one delivery. Event types outside the billing set
// return ErrEventIgnored so callers can acknowledge without dispatching.
func (w *Webhook) Parse(payload []byte) (*reconciliationdomain.Event, error) {
	var event rawEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, reconciliationdomain.ErrInvalidEvent
	}

	eventType := reconciliationdomain.EventType(strings.TrimSpace(event.Type))
	switch eventType {
	case reconciliationdomain.EventCheckoutCompleted:
		return parseCheckout(event)
	case reconciliationdomain.EventSubscriptionCreated,
		reconciliationdomain.EventSubscriptionUpdated,
		reconciliationdomain.EventSubscriptionDeleted:
		return parseSubscription(event, eventType)
	case reconciliationdomain.EventInvoicePaid, reconciliationdomain.EventInvoiceFailed:
		return parseInvoice(event, eventType)
	default:
		return nil, reconciliationdomain.ErrEventIgnored
	}
}

type rawEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type rawCheckoutSession struct {
	ID            string            `json:"id"`
	Subscription  string            `json:"subscription"`
	PaymentIntent string            `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}

type rawSubscription struct {
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

type rawInvoice struct {
	ID            string `json:"id"`
	Subscription  string `json:"subscription"`
	Customer      string `json:"customer"`
	PeriodStart   int64  `json:"period_start"`
	PeriodEnd     int64  `json:"period_end"`
	BillingReason string `json:"billing_reason"`
	Parent        struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func parseCheckout(event rawEvent) (*reconciliationdomain.Event, error) {
	var session rawCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, reconciliationdomain.ErrInvalidEvent
	}

	checkout := &reconciliationdomain.CheckoutSession{
		ID:             session.ID,
		Kind:           reconciliationdomain.CheckoutKind(strings.TrimSpace(session.Metadata["type"])),
		TierID:         strings.TrimSpace(session.Metadata["tierId"]),
		SubscriptionID: strings.TrimSpace(session.Subscription),
		AmountTotal:    session.AmountTotal,
		PaymentIntent:  strings.TrimSpace(session.PaymentIntent),
		CustomerEmail:  strings.TrimSpace(session.CustomerEmail),
	}
	checkout.UserID = parseUserID(session.Metadata)
	checkout.Credits = parseMetadataInt(session.Metadata, "credits")
	checkout.MonthlyCredits = parseMetadataInt(session.Metadata, "monthlyCredits")

	return &reconciliationdomain.Event{
		ID:       event.ID,
		Type:     reconciliationdomain.EventCheckoutCompleted,
		Checkout: checkout,
	}, nil
}

func parseSubscription(event rawEvent, eventType reconciliationdomain.EventType) (*reconciliationdomain.Event, error) {
	var sub rawSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, reconciliationdomain.ErrInvalidEvent
	}

	payload := &reconciliationdomain.SubscriptionEvent{
		ID:                 sub.ID,
		CustomerID:         strings.TrimSpace(sub.Customer),
		Status:             strings.TrimSpace(sub.Status),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		UserID:             parseUserID(sub.Metadata),
		TierID:             strings.TrimSpace(sub.Metadata["tierId"]),
		TierName:           strings.TrimSpace(sub.Metadata["tierName"]),
		SessionID:          strings.TrimSpace(sub.Metadata["sessionId"]),
	}
	if len(sub.Items.Data) > 0 {
		payload.PriceID = sub.Items.Data[0].Price.ID
	}

	return &reconciliationdomain.Event{
		ID:           event.ID,
		Type:         eventType,
		Subscription: payload,
	}, nil
}

func parseInvoice(event rawEvent, eventType reconciliationdomain.EventType) (*reconciliationdomain.Event, error) {
	var invoice rawInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(invoice.ID) == "" {
		return nil, reconciliationdomain.ErrInvalidEvent
	}

	// Newer API versions moved the subscription reference under parent.
	subscriptionID := strings.TrimSpace(invoice.Subscription)
	if subscriptionID == "" {
		subscriptionID = strings.TrimSpace(invoice.Parent.SubscriptionDetails.Subscription)
	}

	periodStart := invoice.PeriodStart
	periodEnd := invoice.PeriodEnd
	if len(invoice.Lines.Data) > 0 {
		line := invoice.Lines.Data[0].Period
		if line.End > periodEnd {
			periodStart = line.Start
			periodEnd = line.End
		}
	}

	return &reconciliationdomain.Event{
		ID:   event.ID,
		Type: eventType,
		Invoice: &reconciliationdomain.InvoiceEvent{
			ID:             invoice.ID,
			SubscriptionID: subscriptionID,
			CustomerID:     strings.TrimSpace(invoice.Customer),
			PeriodStart:    unixTime(periodStart),
			PeriodEnd:      unixTime(periodEnd),
			BillingReason:  strings.TrimSpace(invoice.BillingReason),
		},
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func parseUserID(metadata map[string]string) snowflake.ID {
	raw := strings.TrimSpace(metadata["userId"])
	if raw == "" {
		return 0
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0
	}
	return id
}

func parseMetadataInt(metadata map[string]string, key string) int64 {
	raw := strings.TrimSpace(metadata[key])
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func unixTime(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}
