package usage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v84"
)

// StripeConfig configures billing meter reporting.
type StripeConfig struct {
	APIKey string
	// Events maps a usage kind to a Stripe meter event name. Kinds without
	// an entry are not reported.
	Events map[Kind]string
	// CustomerID maps a user id to a Stripe customer id. The user id is used
	// as is when nil.
	CustomerID func(userID string) string
	// Backends overrides the Stripe API endpoints.
	Backends *stripe.Backends
}

// StripeMeter reports usage as Stripe billing meter events.
type StripeMeter struct {
	client     *stripe.Client
	events     map[Kind]string
	customerID func(string) string
}

func NewStripeMeter(cfg StripeConfig) (*StripeMeter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("stripe api key is required")
	}
	if len(cfg.Events) == 0 {
		return nil, fmt.Errorf("at least one stripe meter event is required")
	}
	var opts []stripe.ClientOption
	if cfg.Backends != nil {
		opts = append(opts, stripe.WithBackends(cfg.Backends))
	}
	customerID := cfg.CustomerID
	if customerID == nil {
		customerID = func(userID string) string { return userID }
	}
	return &StripeMeter{
		client:     stripe.NewClient(cfg.APIKey, opts...),
		events:     cfg.Events,
		customerID: customerID,
	}, nil
}

func (m *StripeMeter) Record(ctx context.Context, ev Event) error {
	name, ok := m.events[ev.Kind]
	if !ok || ev.Quantity <= 0 {
		return nil
	}
	customer := m.customerID(ev.UserID)
	if customer == "" {
		return fmt.Errorf("stripe meter: no customer for call %q", ev.CallID)
	}

	params := &stripe.BillingMeterEventCreateParams{
		EventName: stripe.String(name),
		Payload: map[string]string{
			"stripe_customer_id": customer,
			"value":              strconv.FormatInt(ev.Quantity, 10),
		},
		Identifier: stripe.String(eventIdentifier(ev)),
	}
	if !ev.At.IsZero() {
		params.Timestamp = stripe.Int64(ev.At.Unix())
	}
	if _, err := m.client.V1BillingMeterEvents.Create(ctx, params); err != nil {
		return fmt.Errorf("stripe meter event %q: %w", name, err)
	}
	return nil
}

// eventIdentifier makes retries of the same event idempotent on Stripe's side.
func eventIdentifier(ev Event) string {
	if ev.Kind == KindCallSeconds {
		return ev.CallID + ":" + string(ev.Kind)
	}
	return fmt.Sprintf("%s:%s:%d", ev.CallID, ev.Kind, ev.At.UnixNano())
}
