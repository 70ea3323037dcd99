package payments

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeBackend calls the Stripe API with the server-side secret key.
type StripeBackend struct {
	api *client.API
}

// NewStripeBackend builds a backend for secretKey. A non-empty apiURL points
// the client at another host, such as a local test server.
func NewStripeBackend(secretKey, apiURL string) *StripeBackend {
	return &StripeBackend{api: client.New(secretKey, StripeBackends(apiURL))}
}

// StripeBackends builds the API backend with network retries disabled. An
// empty apiURL keeps the default host.
func StripeBackends(apiURL string) *stripe.Backends {
	cfg := &stripe.BackendConfig{MaxNetworkRetries: stripe.Int64(0)}
	if apiURL != "" {
		cfg.URL = stripe.String(apiURL)
	}
	return &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackend(stripe.ConnectBackend),
		Uploads: stripe.GetBackend(stripe.UploadsBackend),
	}
}

func (b *StripeBackend) CreateConnectionToken(ctx context.Context) (string, error) {
	params := &stripe.TerminalConnectionTokenParams{}
	params.Context = ctx

	token, err := b.api.TerminalConnectionTokens.New(params)
	if err != nil {
		return "", err
	}
	if token.Secret == "" {
		return "", fmt.Errorf("connection token response has no secret")
	}
	return token.Secret, nil
}

func (b *StripeBackend) CreatePaymentIntent(ctx context.Context, p CreateParams) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(p.Amount),
		Currency:           stripe.String(p.Currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card_present"}),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodAutomatic)),
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	pi, err := b.api.PaymentIntents.New(params)
	if err != nil {
		return nil, err
	}
	return fromStripe(pi), nil
}

func (b *StripeBackend) CapturePaymentIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx

	pi, err := b.api.PaymentIntents.Capture(id, params)
	if err != nil {
		return nil, err
	}
	return fromStripe(pi), nil
}

func (b *StripeBackend) CancelPaymentIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	pi, err := b.api.PaymentIntents.Cancel(id, params)
	if err != nil {
		return nil, err
	}
	return fromStripe(pi), nil
}

func (b *StripeBackend) GetPaymentIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := b.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, err
	}
	return fromStripe(pi), nil
}

func fromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}
}
