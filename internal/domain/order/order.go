package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound             = errors.New("order: not found")
	ErrDuplicateOrderNumber = errors.New("order: duplicate order number")
	ErrStatusConflict       = errors.New("order: status changed concurrently")
	ErrInvalidQuantity      = errors.New("order: quantity must be greater than zero")
	ErrInvalidAmount        = errors.New("order: amount must be zero or greater")
	ErrEmptyItems           = errors.New("order: at least one item is required")
	ErrMissingAddress       = errors.New("order: shipping address is required")
	ErrTotalMismatch        = errors.New("order: total does not equal subtotal + shipping - discount")
	ErrSubtotalMismatch     = errors.New("order: subtotal does not equal the sum of item subtotals")
	ErrInvalidItemSubtotal  = errors.New("order: item subtotal does not equal unit price * quantity")
	ErrMissingOrderNumber   = errors.New("order: order number is required")
	ErrMissingBuyerOrSeller = errors.New("order: buyer and seller are required")
)

// ShippingAddress is snapshotted onto the order and never edited afterwards.
type ShippingAddress struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

func (a ShippingAddress) IsZero() bool {
	return a.Line1 == "" && a.City == "" && a.Country == ""
}

type Item struct {
	ID            string
	OrderID       string
	ProductID     string
	ProductName   string
	ProductNameAr string
	Quantity      int
	UnitPrice     decimal.Decimal
	Subtotal      decimal.Decimal
}

// NewItem snapshots a product line. Subtotal is derived, never supplied.
func NewItem(id, productID, name, nameAr string, quantity int, unitPrice decimal.Decimal) (Item, error) {
	if quantity <= 0 {
		return Item{}, ErrInvalidQuantity
	}
	if unitPrice.IsNegative() {
		return Item{}, ErrInvalidAmount
	}
	return Item{
		ID:            id,
		ProductID:     productID,
		ProductName:   name,
		ProductNameAr: nameAr,
		Quantity:      quantity,
		UnitPrice:     unitPrice,
		Subtotal:      unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}, nil
}

// Pricing holds the four money figures of an order.
type Pricing struct {
	Subtotal     decimal.Decimal
	ShippingCost decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
}

// NewPricing derives subtotal and total from the items.
func NewPricing(items []Item, shipping, discount decimal.Decimal) Pricing {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Subtotal)
	}
	return Pricing{
		Subtotal:     subtotal,
		ShippingCost: shipping,
		Discount:     discount,
		Total:        subtotal.Add(shipping).Sub(discount),
	}
}

type Order struct {
	ID                string
	Number            string
	BuyerID           string
	SellerID          string
	Status            Status
	Subtotal          decimal.Decimal
	ShippingCost      decimal.Decimal
	Discount          decimal.Decimal
	Total             decimal.Decimal
	Currency          string
	ShippingAddress   ShippingAddress
	TrackingNumber    *string
	EstimatedDelivery *time.Time
	StatusReason      string
	Items             []Item
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func New(id, number, buyerID, sellerID, currency string, items []Item, pricing Pricing, addr ShippingAddress) (*Order, error) {
	if number == "" {
		return nil, ErrMissingOrderNumber
	}
	if buyerID == "" || sellerID == "" {
		return nil, ErrMissingBuyerOrSeller
	}
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}
	if addr.IsZero() {
		return nil, ErrMissingAddress
	}

	now := time.Now().UTC()
	o := &Order{
		ID:              id,
		Number:          number,
		BuyerID:         buyerID,
		SellerID:        sellerID,
		Status:          StatusPending,
		Subtotal:        pricing.Subtotal,
		ShippingCost:    pricing.ShippingCost,
		Discount:        pricing.Discount,
		Total:           pricing.Total,
		Currency:        currency,
		ShippingAddress: addr,
		Items:           make([]Item, len(items)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, it := range items {
		it.OrderID = id
		o.Items[i] = it
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate checks the money invariants of the order.
func (o *Order) Validate() error {
	sum := decimal.Zero
	for _, it := range o.Items {
		if it.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		if !it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).Equal(it.Subtotal) {
			return ErrInvalidItemSubtotal
		}
		sum = sum.Add(it.Subtotal)
	}
	if !sum.Equal(o.Subtotal) {
		return ErrSubtotalMismatch
	}
	if o.ShippingCost.IsNegative() || o.Discount.IsNegative() || o.Total.IsNegative() {
		return ErrInvalidAmount
	}
	if !o.Subtotal.Add(o.ShippingCost).Sub(o.Discount).Equal(o.Total) {
		return ErrTotalMismatch
	}
	return nil
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	if o.TrackingNumber != nil {
		tn := *o.TrackingNumber
		c.TrackingNumber = &tn
	}
	if o.EstimatedDelivery != nil {
		ed := *o.EstimatedDelivery
		c.EstimatedDelivery = &ed
	}
	return &c
}

// Apply copies a status update onto the order.
func (o *Order) Apply(u StatusUpdate) {
	o.Status = u.Status
	if u.TrackingNumber != nil {
		tn := *u.TrackingNumber
		o.TrackingNumber = &tn
	}
	if u.EstimatedDelivery != nil {
		ed := u.EstimatedDelivery.UTC()
		o.EstimatedDelivery = &ed
	}
	if u.Reason != "" {
		o.StatusReason = u.Reason
	}
	o.touch()
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
