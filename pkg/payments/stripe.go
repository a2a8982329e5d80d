// Package payments wraps the Stripe integration: hosted checkout session
// creation, session retrieval for the success page, and webhook signature
// verification plus event normalization.
package payments

import (
	"context"
	"encoding/json"

	"github.com/example/bookshop/pkg/config"
	"github.com/example/bookshop/pkg/errs"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

// metadataLimit is Stripe's per-value metadata size cap. The cart blob must
// fit or it is degraded (prices dropped) or omitted entirely.
const metadataLimit = 500

// shippingCountries is the allow-list for hosted address collection.
var shippingCountries = []string{"US", "CA"}

// CartItem is one client-submitted cart line. UnitAmount is in cents.
type CartItem struct {
	Title      string `json:"title"`
	UnitAmount int64  `json:"price,omitempty"`
	Quantity   int64  `json:"quantity"`
}

type Client struct {
	api    *client.API
	config *config.StripeConfig
	logger *zap.Logger
}

func NewClient(cfg *config.StripeConfig, logger *zap.Logger) *Client {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	return &Client{
		api:    api,
		config: cfg,
		logger: logger,
	}
}

// ValidateCart rejects a malformed cart before any processor call is made.
func ValidateCart(items []CartItem) error {
	if len(items) == 0 {
		return errs.Validation("items must be a non-empty array")
	}
	for i, item := range items {
		if item.Title == "" {
			return errs.Validation("item %d: title must not be empty", i)
		}
		if item.UnitAmount <= 0 {
			return errs.Validation("item %d: amount must be a positive integer", i)
		}
		if item.Quantity <= 0 {
			return errs.Validation("item %d: quantity must be a positive integer", i)
		}
	}
	return nil
}

// CreateCheckoutSession validates the cart and requests a hosted session with
// the cart embedded as metadata. No local state is written here: the order
// only becomes durable when the completion webhook arrives. The charged
// amount comes from the per-item price data below, never from the metadata.
func (c *Client) CreateCheckoutSession(ctx context.Context, items []CartItem, customerEmail string) (string, error) {
	if err := ValidateCart(items); err != nil {
		return "", err
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, len(items))
	for i, item := range items {
		lineItems[i] = &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(string(stripe.CurrencyUSD)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Title),
				},
				UnitAmount: stripe.Int64(item.UnitAmount),
			},
			Quantity: stripe.Int64(item.Quantity),
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          lineItems,
		SuccessURL:         stripe.String(c.config.SuccessURL),
		CancelURL:          stripe.String(c.config.CancelURL),
		ShippingAddressCollection: &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(shippingCountries),
		},
		ShippingOptions: []*stripe.CheckoutSessionShippingOptionParams{
			shippingOption("Standard Shipping", 599),
			shippingOption("Expedited Shipping", 1299),
		},
	}
	params.Context = ctx
	if customerEmail != "" {
		params.CustomerEmail = stripe.String(customerEmail)
	}
	if blob := encodeCartMetadata(items); blob != "" {
		params.AddMetadata("items", blob)
	}

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		c.logger.Error("Stripe session create failed", zap.Error(err))
		return "", &errs.UpstreamError{Cause: err}
	}

	return sess.ID, nil
}

// GetSession fetches a session with line items expanded, for the success page.
func (c *Client) GetSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")

	sess, err := c.api.CheckoutSessions.Get(id, params)
	if err != nil {
		c.logger.Error("Stripe session fetch failed", zap.String("session_id", id), zap.Error(err))
		return nil, &errs.UpstreamError{Cause: err}
	}
	return sess, nil
}

// VerifyWebhook checks the signature over the exact raw body bytes. Any
// mismatch, missing header, or malformed signature fails closed. API version
// drift is not an authentication failure: an endpoint pinned to an older
// Stripe API version still delivers validly signed events.
func (c *Client) VerifyWebhook(payload []byte, sigHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, c.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, &errs.AuthenticationError{Cause: err}
	}
	return event, nil
}

// encodeCartMetadata serializes the cart so the webhook can reconstruct item
// titles and quantities. Prices are included when they fit, dropped when the
// blob would exceed Stripe's metadata value limit, and the blob is omitted
// entirely as a last resort (the webhook then falls back to an empty list).
func encodeCartMetadata(items []CartItem) string {
	full, err := json.Marshal(items)
	if err == nil && len(full) <= metadataLimit {
		return string(full)
	}

	compact := make([]CartItem, len(items))
	for i, item := range items {
		compact[i] = CartItem{Title: item.Title, Quantity: item.Quantity}
	}
	data, err := json.Marshal(compact)
	if err != nil || len(data) > metadataLimit {
		return ""
	}
	return string(data)
}

func shippingOption(name string, amount int64) *stripe.CheckoutSessionShippingOptionParams {
	return &stripe.CheckoutSessionShippingOptionParams{
		ShippingRateData: &stripe.CheckoutSessionShippingOptionShippingRateDataParams{
			DisplayName: stripe.String(name),
			Type:        stripe.String("fixed_amount"),
			FixedAmount: &stripe.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
				Amount:   stripe.Int64(amount),
				Currency: stripe.String(string(stripe.CurrencyUSD)),
			},
		},
	}
}
