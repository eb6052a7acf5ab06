package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// RechargeClient is a thin wrapper around stripe-go for the recharge
// purchase flow: hold the subscription amount, capture once the backend
// activates the window, cancel if activation fails.
type RechargeClient struct{}

// NewRechargeClient initializes the stripe client with the
// STRIPE_API_KEY env var.
func NewRechargeClient() *RechargeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &RechargeClient{}
}

// Hold creates a PaymentIntent with capture_method=manual for the
// recharge amount (smallest currency unit). Returns the intent ID.
func (c *RechargeClient) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
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

// Capture finalizes a held recharge payment.
func (c *RechargeClient) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Cancel releases the hold when the recharge never activates.
func (c *RechargeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
