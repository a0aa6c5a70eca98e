package types

// ShippingAddress is the delivery destination snapshotted onto an order at
// checkout. Stored as jsonb.
type ShippingAddress struct {
	RecipientName string  `json:"recipient_name"`
	Phone         string  `json:"phone"`
	Province      string  `json:"province"`
	City          string  `json:"city"`
	Line          string  `json:"line"`
	PostalCode    string  `json:"postal_code"`
	Plaque        *string `json:"plaque,omitempty"`
	Unit          *string `json:"unit,omitempty"`
}
