package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient wraps stripe-go PaymentIntent hold/capture/cancel flows.
// The dispatch core only submits a best-effort hold for the metered fare
// when a ride completes; capture and refunds belong to the payment
// service.
type StripeClient struct{}

// NewStripeClient initializes stripe with the STRIPE_API_KEY env var.
// Returns nil when no key is configured so callers can skip wiring.
func NewStripeClient() *StripeClient {
	key := os.Getenv("STRIPE_API_KEY")
	if key == "" {
		return nil
	}
	stripe.Key = key
	return &StripeClient{}
}

// HoldFare creates a manual-capture PaymentIntent for the fare amount in
// yen and returns the PaymentIntent ID.
func (s *StripeClient) HoldFare(ctx context.Context, amountYen int64, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountYen),
		Currency: stripe.String(string(stripe.CurrencyJPY)),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Release cancels the hold on a PaymentIntent.
func (s *StripeClient) Release(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
