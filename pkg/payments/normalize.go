package payments

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/bookshop/pkg/models"
	stripe "github.com/stripe/stripe-go/v82"
)

// EventCheckoutCompleted is the only event type that creates an order. All
// other types are acknowledged and ignored so the processor stops retrying.
const EventCheckoutCompleted = "checkout.session.completed"

// Fallbacks for fields the processor may omit.
const (
	fallbackEmail = "no-email"
	fallbackName  = "Customer"
)

// CheckoutResult is the canonical order representation extracted from a
// completed checkout event. Amount is taken from the session object, never
// from the round-tripped metadata.
type CheckoutResult struct {
	SessionID      string
	Name           string
	Email          string
	Amount         int64
	Items          []models.OrderItem
	Summary        string
	Address        *models.Address
	ShippingAmount int64
}

// Normalize extracts a CheckoutResult from a verified event. The second
// return value is false for every event type other than checkout completion;
// such events carry no order and must only be acknowledged.
func Normalize(event stripe.Event) (*CheckoutResult, bool) {
	if string(event.Type) != EventCheckoutCompleted {
		return nil, false
	}

	var sess stripe.CheckoutSession
	if event.Data != nil {
		// Tolerate partial payloads: whatever fails to decode keeps its
		// zero value and falls through to the defaults below.
		_ = json.Unmarshal(event.Data.Raw, &sess)
	}

	items := decodeItemMetadata(sess.Metadata)

	result := &CheckoutResult{
		SessionID: sess.ID,
		Name:      fallbackName,
		Email:     fallbackEmail,
		Amount:    sess.AmountTotal,
		Items:     items,
		Summary:   Summarize(items),
	}

	if sess.CustomerDetails != nil {
		if sess.CustomerDetails.Email != "" {
			result.Email = sess.CustomerDetails.Email
		}
		if sess.CustomerDetails.Name != "" {
			result.Name = sess.CustomerDetails.Name
		}
		result.Address = normalizeAddress(sess.CustomerDetails.Address)
	}

	if sess.ShippingCost != nil {
		result.ShippingAmount = sess.ShippingCost.AmountTotal
	}

	return result, true
}

// NormalizeSession builds the success-page view from a directly fetched
// session (line items expanded).
func NormalizeSession(sess *stripe.CheckoutSession) (email string, items []models.OrderItem, amount int64, address *models.Address) {
	email = fallbackEmail
	if sess.CustomerDetails != nil {
		if sess.CustomerDetails.Email != "" {
			email = sess.CustomerDetails.Email
		}
		address = normalizeAddress(sess.CustomerDetails.Address)
	}

	if sess.LineItems != nil {
		for _, li := range sess.LineItems.Data {
			items = append(items, models.OrderItem{
				Title:    li.Description,
				Quantity: li.Quantity,
			})
		}
	}

	return email, items, sess.AmountTotal, address
}

// Summarize joins items as "<title> x<quantity>" with ", ". An empty item
// list yields an empty summary; that is accepted output, not an error.
func Summarize(items []models.OrderItem) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprintf("%s x%d", item.Title, item.Quantity)
	}
	return strings.Join(parts, ", ")
}

// decodeItemMetadata parses the cart blob defensively: a missing or
// unparseable blob degrades to an empty item list rather than failing the
// whole event.
func decodeItemMetadata(metadata map[string]string) []models.OrderItem {
	blob, ok := metadata["items"]
	if !ok || blob == "" {
		return nil
	}
	var items []models.OrderItem
	if err := json.Unmarshal([]byte(blob), &items); err != nil {
		return nil
	}
	return items
}

func normalizeAddress(addr *stripe.Address) *models.Address {
	if addr == nil {
		return nil
	}
	out := &models.Address{
		Line1:      optional(addr.Line1),
		Line2:      optional(addr.Line2),
		City:       optional(addr.City),
		State:      optional(addr.State),
		PostalCode: optional(addr.PostalCode),
		Country:    optional(addr.Country),
	}
	if out.Empty() {
		return nil
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
