// Package cart accumulates lines for a sale before it is committed. It never
// touches storage; stock checks use the product snapshot passed in.
package cart

import (
	"github.com/shopspring/decimal"

	"bodega/backend/internal/domain"
)

type Line struct {
	Product  domain.Product  `json:"product"`
	Quantity int             `json:"quantity"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// Cart is not safe for concurrent use.
type Cart struct {
	lines []Line
}

func New() *Cart {
	return &Cart{}
}

func (c *Cart) index(productID int64) int {
	for i, line := range c.lines {
		if line.Product.ID == productID {
			return i
		}
	}
	return -1
}

// AddLine adds one unit of product. A new line needs stock above zero; an
// existing one may grow up to product.Stock. It reports whether the cart
// changed.
func (c *Cart) AddLine(product domain.Product) bool {
	i := c.index(product.ID)
	if i < 0 {
		if product.Stock <= 0 {
			return false
		}
		c.lines = append(c.lines, Line{Product: product, Quantity: 1})
		return true
	}

	// The stock seen here becomes the line's last known stock. Prices stay
	// as captured by the first add.
	c.lines[i].Product.Stock = product.Stock
	if c.lines[i].Quantity >= product.Stock {
		return false
	}
	c.lines[i].Quantity++
	return true
}

// SetLineQuantity removes the line when q <= 0 and otherwise replaces its
// quantity if the last known stock covers it.
func (c *Cart) SetLineQuantity(productID int64, q int) bool {
	i := c.index(productID)
	if i < 0 {
		return false
	}
	if q <= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
		return true
	}
	if q > c.lines[i].Product.Stock {
		return false
	}
	c.lines[i].Quantity = q
	return true
}

func (c *Cart) RemoveLine(productID int64) bool {
	return c.SetLineQuantity(productID, 0)
}

func (c *Cart) Clear() {
	c.lines = nil
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.lines {
		total = total.Add(line.Product.SalePrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// Lines returns a copy in insertion order with subtotals filled in.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	for i, line := range c.lines {
		line.Subtotal = line.Product.SalePrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		out[i] = line
	}
	return out
}

func (c *Cart) CheckoutLines() []domain.CheckoutLine {
	out := make([]domain.CheckoutLine, 0, len(c.lines))
	for _, line := range c.lines {
		out = append(out, domain.CheckoutLine{
			ProductID:         line.Product.ID,
			Quantity:          line.Quantity,
			UnitSalePrice:     line.Product.SalePrice,
			UnitPurchasePrice: line.Product.PurchasePrice,
		})
	}
	return out
}
