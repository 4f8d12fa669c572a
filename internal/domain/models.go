package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	Stock         int             `json:"stock"`
	PurchaseDate  time.Time       `json:"purchase_date"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	ImageRef      string          `json:"image_ref,omitempty"`
	Barcode       string          `json:"barcode,omitempty"`
}

type ProductCreateRequest struct {
	Name          string          `json:"name" validate:"required,max=120"`
	Category      string          `json:"category" validate:"max=80"`
	PurchasePrice decimal.Decimal `json:"purchase_price" validate:"gte=0"`
	SalePrice     decimal.Decimal `json:"sale_price" validate:"gte=0"`
	Stock         int             `json:"stock" validate:"gte=0"`
	PurchaseDate  *time.Time      `json:"purchase_date,omitempty"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	ImageRef      string          `json:"image_ref,omitempty" validate:"max=512"`
	Barcode       string          `json:"barcode,omitempty" validate:"max=64"`
}

type ProductUpdateRequest struct {
	Name          *string          `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Category      *string          `json:"category,omitempty" validate:"omitempty,max=80"`
	PurchasePrice *decimal.Decimal `json:"purchase_price,omitempty" validate:"omitempty,gte=0"`
	SalePrice     *decimal.Decimal `json:"sale_price,omitempty" validate:"omitempty,gte=0"`
	Stock         *int             `json:"stock,omitempty" validate:"omitempty,gte=0"`
	ExpiryDate    *time.Time       `json:"expiry_date,omitempty"`
	ClearExpiry   bool             `json:"clear_expiry,omitempty"`
	ImageRef      *string          `json:"image_ref,omitempty" validate:"omitempty,max=512"`
	Barcode       *string          `json:"barcode,omitempty" validate:"omitempty,max=64"`
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type CategoryRequest struct {
	Name string `json:"name" validate:"required,max=80"`
}

type Sale struct {
	ID     int64           `json:"id"`
	SoldAt time.Time       `json:"sold_at"`
	Total  decimal.Decimal `json:"total"`
	Lines  []SaleLineItem  `json:"lines,omitempty"`
}

// SaleLineItem freezes both unit prices at sale time so later price edits
// never rewrite historical margin.
type SaleLineItem struct {
	SaleID            int64           `json:"sale_id"`
	ProductID         int64           `json:"product_id"`
	Quantity          int             `json:"quantity"`
	UnitSalePrice     decimal.Decimal `json:"unit_sale_price"`
	UnitPurchasePrice decimal.Decimal `json:"unit_purchase_price"`
}

func (l SaleLineItem) Subtotal() decimal.Decimal {
	return l.UnitSalePrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l SaleLineItem) Margin() decimal.Decimal {
	return l.UnitSalePrice.Sub(l.UnitPurchasePrice).Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type CheckoutLine struct {
	ProductID         int64           `json:"product_id" validate:"required,gt=0"`
	Quantity          int             `json:"quantity" validate:"required,gt=0"`
	UnitSalePrice     decimal.Decimal `json:"unit_sale_price"`
	UnitPurchasePrice decimal.Decimal `json:"unit_purchase_price"`
}

type CommitSaleRequest struct {
	SoldAt *time.Time     `json:"sold_at,omitempty"`
	Lines  []CheckoutLine `json:"lines" validate:"required,min=1,dive"`
}

type DailyPoint struct {
	Day    string          `json:"day"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

type SalesReport struct {
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	Sales       []DailyPoint    `json:"sales"`
	Margin      []DailyPoint    `json:"margin"`
	TotalSales  decimal.Decimal `json:"total_sales"`
	TotalMargin decimal.Decimal `json:"total_margin"`
}

type Dashboard struct {
	Report            SalesReport     `json:"report"`
	LowStock          []Product       `json:"low_stock"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	Expiring          []Product       `json:"expiring"`
	ExpiryWindowDays  int             `json:"expiry_window_days"`
	TotalMargin       decimal.Decimal `json:"total_margin"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

type ThemeOption string

const (
	ThemeLight  ThemeOption = "LIGHT"
	ThemeDark   ThemeOption = "DARK"
	ThemeSystem ThemeOption = "SYSTEM"
)

func ParseThemeOption(raw string) (ThemeOption, bool) {
	switch ThemeOption(raw) {
	case ThemeLight, ThemeDark, ThemeSystem:
		return ThemeOption(raw), true
	default:
		return ThemeSystem, false
	}
}

const DayLayout = "2006-01-02"

// DayBounds returns the UTC midnight of t and of the following day.
func DayBounds(t time.Time) (time.Time, time.Time) {
	u := t.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// DayLabel renders a "2006-01-02" day key as day/month for charts.
func DayLabel(day string) string {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return day
	}
	return t.Format("02/01")
}
