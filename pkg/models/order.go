package models

import (
	"encoding/json"
	"time"
)

// Order is the durable record of a completed purchase. Rows are written once
// by the webhook pipeline and never updated or deleted.
type Order struct {
	ID        string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string `gorm:"type:varchar(100)" json:"name"`
	Email     string `gorm:"type:varchar(100);index" json:"email"`
	BookTitle string `gorm:"type:text" json:"bookTitle"` // human-readable summary, kept for CSV export
	Items     string `gorm:"type:text" json:"-"`         // JSON-encoded []OrderItem
	Amount    int64  `gorm:"not null;default:0" json:"amount"`

	ShippingLine1      *string `gorm:"type:varchar(200)" json:"shippingLine1,omitempty"`
	ShippingLine2      *string `gorm:"type:varchar(200)" json:"shippingLine2,omitempty"`
	ShippingCity       *string `gorm:"type:varchar(100)" json:"shippingCity,omitempty"`
	ShippingState      *string `gorm:"type:varchar(100)" json:"shippingState,omitempty"`
	ShippingPostalCode *string `gorm:"type:varchar(20)" json:"shippingPostalCode,omitempty"`
	ShippingCountry    *string `gorm:"type:varchar(2)" json:"shippingCountry,omitempty"`

	CreatedAt time.Time `json:"date"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderItem is one line of a cart, round-tripped through the payment session
// metadata. Unit amount is in minor currency units (cents).
type OrderItem struct {
	Title      string `json:"title"`
	Quantity   int64  `json:"quantity"`
	UnitAmount int64  `json:"price,omitempty"`
}

// ItemList decodes the stored items column. A malformed or empty column
// yields an empty list, matching how the webhook pipeline treats bad metadata.
func (o *Order) ItemList() []OrderItem {
	if o.Items == "" {
		return nil
	}
	var items []OrderItem
	if err := json.Unmarshal([]byte(o.Items), &items); err != nil {
		return nil
	}
	return items
}

// Address groups the optional shipping fields; every field is independently
// nullable because the processor reports only what the customer entered.
type Address struct {
	Line1      *string `json:"line1,omitempty"`
	Line2      *string `json:"line2,omitempty"`
	City       *string `json:"city,omitempty"`
	State      *string `json:"state,omitempty"`
	PostalCode *string `json:"postalCode,omitempty"`
	Country    *string `json:"country,omitempty"`
}

// Empty reports whether no field of the address is set.
func (a *Address) Empty() bool {
	if a == nil {
		return true
	}
	return a.Line1 == nil && a.Line2 == nil && a.City == nil &&
		a.State == nil && a.PostalCode == nil && a.Country == nil
}
