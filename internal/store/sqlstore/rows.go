package sqlstore

import (
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bodega/backend/internal/domain"
)

const productColumns = `id, name, category, purchase_price, sale_price, stock, purchase_date, expiry_date, image_ref, barcode`

type productRow struct {
	ID            int64          `db:"id"`
	Name          string         `db:"name"`
	Category      string         `db:"category"`
	PurchasePrice float64        `db:"purchase_price"`
	SalePrice     float64        `db:"sale_price"`
	Stock         int            `db:"stock"`
	PurchaseDate  int64          `db:"purchase_date"`
	ExpiryDate    sql.NullInt64  `db:"expiry_date"`
	ImageRef      sql.NullString `db:"image_ref"`
	Barcode       sql.NullString `db:"barcode"`
}

func (r productRow) toDomain() domain.Product {
	p := domain.Product{
		ID:            r.ID,
		Name:          r.Name,
		Category:      r.Category,
		PurchasePrice: fromMoney(r.PurchasePrice),
		SalePrice:     fromMoney(r.SalePrice),
		Stock:         r.Stock,
		PurchaseDate:  fromMillis(r.PurchaseDate),
		ImageRef:      r.ImageRef.String,
		Barcode:       r.Barcode.String,
	}
	if r.ExpiryDate.Valid {
		expiry := fromMillis(r.ExpiryDate.Int64)
		p.ExpiryDate = &expiry
	}
	return p
}

func toProducts(rows []productRow) []domain.Product {
	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.toDomain())
	}
	return products
}

type categoryRow struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

type saleRow struct {
	ID     int64   `db:"id"`
	SoldAt int64   `db:"sold_at"`
	Total  float64 `db:"total"`
}

func (r saleRow) toDomain() domain.Sale {
	return domain.Sale{ID: r.ID, SoldAt: fromMillis(r.SoldAt), Total: fromMoney(r.Total)}
}

type lineRow struct {
	SaleID            int64   `db:"sale_id"`
	ProductID         int64   `db:"product_id"`
	Quantity          int     `db:"quantity"`
	UnitSalePrice     float64 `db:"unit_sale_price"`
	UnitPurchasePrice float64 `db:"unit_purchase_price"`
}

type dayRow struct {
	Day    string          `db:"day"`
	Amount sql.NullFloat64 `db:"amount"`
}

func toPoints(rows []dayRow) []domain.DailyPoint {
	points := make([]domain.DailyPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, domain.DailyPoint{
			Day:    row.Day,
			Label:  domain.DayLabel(row.Day),
			Amount: fromMoney(row.Amount.Float64).Round(2),
		})
	}
	return points
}

func money(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

func fromMoney(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullIfEmpty(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
