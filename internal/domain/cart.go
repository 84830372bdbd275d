package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PlaceholderImage is used when the catalog has no image for a product.
const PlaceholderImage = "https://via.placeholder.com/150"

type Cart struct {
	ID         string     `bson:"_id,omitempty" json:"id,omitempty"`
	UserID     string     `bson:"user_id" json:"userId"`
	Items      []CartItem `bson:"items" json:"items"`
	TotalPrice float64    `bson:"total_price" json:"totalPrice"`
	Version    int64      `bson:"version" json:"-"`
	CreatedAt  time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `bson:"updated_at" json:"updatedAt"`
}

type CartItem struct {
	ProductID string  `bson:"product_id" json:"productId"`
	Name      string  `bson:"name" json:"name"`
	UnitPrice float64 `bson:"unit_price" json:"unitPrice"`
	ImageURL  string  `bson:"image_url" json:"imageUrl"`
	Quantity  int     `bson:"quantity" json:"quantity"`
}

type Summary struct {
	ItemCount  int     `json:"itemCount"`
	TotalPrice float64 `json:"totalPrice"`
}

// NewCart returns an empty cart for userID.
func NewCart(userID string, now time.Time) *Cart {
	return &Cart{
		UserID:    userID,
		Items:     []CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewCartItem snapshots the product into a cart line. The catalog price is copied and
// never re-synced afterwards.
func NewCartItem(p *Product, quantity int) (CartItem, error) {
	if p == nil || p.ID == "" {
		return CartItem{}, fmt.Errorf("%w: product id is required", ErrInvalidArgument)
	}
	if quantity < 1 {
		return CartItem{}, fmt.Errorf("%w: quantity must be greater than 0", ErrInvalidArgument)
	}
	if p.Price < 0 {
		return CartItem{}, fmt.Errorf("%w: price of product %s is negative", ErrInvalidArgument, p.ID)
	}

	image := PlaceholderImage
	if len(p.Images) > 0 && p.Images[0] != "" {
		image = p.Images[0]
	}

	return CartItem{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		ImageURL:  image,
		Quantity:  quantity,
	}, nil
}

// RecomputeTotal returns Σ unitPrice × quantity. Arithmetic is decimal so that
// prices like 0.1 do not accumulate binary rounding error.
func RecomputeTotal(items []CartItem) float64 {
	total := decimal.Zero
	for _, item := range items {
		line := decimal.NewFromFloat(item.UnitPrice).Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(line)
	}
	return total.InexactFloat64()
}

// FindItem returns the index of the line for productID, or -1.
func (c *Cart) FindItem(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// RemoveItem drops the line for productID. Missing products are ignored.
func (c *Cart) RemoveItem(productID string) {
	kept := make([]CartItem, 0, len(c.Items))
	for _, item := range c.Items {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	c.Items = kept
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

func (c *Cart) Summary() Summary {
	if c.IsEmpty() {
		return Summary{}
	}
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return Summary{ItemCount: count, TotalPrice: c.TotalPrice}
}

// Clone returns a deep copy so callers can mutate items without touching a shared value.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Items = make([]CartItem, len(c.Items))
	copy(cp.Items, c.Items)
	return &cp
}
