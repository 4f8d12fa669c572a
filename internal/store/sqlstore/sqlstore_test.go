package sqlstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bodega/backend/internal/domain"
	"bodega/backend/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "bodega.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func mustCreateProduct(t *testing.T, s *Store, name string, barcode string, stock int) domain.Product {
	t.Helper()

	p, err := s.CreateProduct(context.Background(), domain.Product{
		Name:          name,
		Category:      "Abarrotes",
		PurchasePrice: decimal.RequireFromString("3.00"),
		SalePrice:     decimal.RequireFromString("5.00"),
		Stock:         stock,
		PurchaseDate:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Barcode:       barcode,
	})
	require.NoError(t, err)
	return *p
}

func commitTestSale(t *testing.T, s *Store, at time.Time, lines ...domain.SaleLineItem) int64 {
	t.Helper()

	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Subtotal())
	}
	var saleID int64
	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		id, err := tx.InsertSale(context.Background(), domain.Sale{SoldAt: at, Total: total})
		if err != nil {
			return err
		}
		saleID = id
		return tx.InsertSaleLines(context.Background(), id, lines)
	})
	require.NoError(t, err)
	return saleID
}

func TestProductRoundTripKeepsOptionalFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expiry := time.Date(2030, 1, 15, 0, 0, 0, 0, time.UTC)
	created, err := s.CreateProduct(ctx, domain.Product{
		Name:          "Leche Gloria",
		Category:      "Lácteos",
		PurchasePrice: decimal.RequireFromString("3.10"),
		SalePrice:     decimal.RequireFromString("4.20"),
		Stock:         12,
		PurchaseDate:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		ExpiryDate:    &expiry,
		ImageRef:      "content://images/42",
		Barcode:       "7750243000042",
	})
	require.NoError(t, err)

	got, err := s.GetProduct(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Leche Gloria", got.Name)
	assert.True(t, got.SalePrice.Equal(decimal.RequireFromString("4.20")))
	require.NotNil(t, got.ExpiryDate)
	assert.True(t, got.ExpiryDate.Equal(expiry))
	assert.Equal(t, "content://images/42", got.ImageRef)

	byBarcode, err := s.GetProductByBarcode(ctx, "7750243000042")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byBarcode.ID)

	_, err = s.GetProductByBarcode(ctx, "0000000000000")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBarcodeUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := mustCreateProduct(t, s, "Arroz", "7750243000011", 10)

	_, err := s.CreateProduct(ctx, domain.Product{Name: "Arroz duplicado", PurchaseDate: time.Now(), Barcode: "7750243000011"})
	assert.ErrorIs(t, err, store.ErrDuplicateBarcode)

	// Any number of products may go without a barcode.
	for i := 0; i < 3; i++ {
		mustCreateProduct(t, s, "Granel", "", 1)
	}

	other := mustCreateProduct(t, s, "Fideos", "7750243000099", 5)
	other.Barcode = first.Barcode
	_, err = s.UpdateProduct(ctx, other)
	assert.ErrorIs(t, err, store.ErrDuplicateBarcode)
}

func TestUpdateProductPreservesPurchaseDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := mustCreateProduct(t, s, "Aceite", "", 3)
	original := p.PurchaseDate

	p.Name = "Aceite Primor"
	p.PurchaseDate = time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)
	updated, err := s.UpdateProduct(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "Aceite Primor", updated.Name)
	assert.True(t, updated.PurchaseDate.Equal(original))

	_, err = s.UpdateProduct(ctx, domain.Product{ID: 9999, Name: "ghost"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteProductBlockedWhileReferenced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := mustCreateProduct(t, s, "Inca Kola", "", 10)
	saleID := commitTestSale(t, s, time.Now().UTC(), domain.SaleLineItem{
		ProductID:         p.ID,
		Quantity:          1,
		UnitSalePrice:     p.SalePrice,
		UnitPurchasePrice: p.PurchasePrice,
	})

	err := s.DeleteProduct(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrProductReferenced)

	require.NoError(t, s.DeleteSale(ctx, saleID))
	_, err = s.GetSale(ctx, saleID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteProduct(ctx, p.ID))
	assert.ErrorIs(t, s.DeleteProduct(ctx, p.ID), store.ErrNotFound)
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := mustCreateProduct(t, s, "Detergente", "", 5)
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		id, err := tx.InsertSale(ctx, domain.Sale{SoldAt: time.Now().UTC(), Total: decimal.RequireFromString("5")})
		if err != nil {
			return err
		}
		if err := tx.InsertSaleLines(ctx, id, []domain.SaleLineItem{{ProductID: p.ID, Quantity: 1, UnitSalePrice: p.SalePrice}}); err != nil {
			return err
		}
		if _, err := tx.CompareAndSetStock(ctx, p.ID, 5, 4); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	sales, err := s.ListSales(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, sales)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
}

func TestCompareAndSetStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := mustCreateProduct(t, s, "Azúcar", "", 10)

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		stock, err := tx.GetStock(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, stock)

		ok, err := tx.CompareAndSetStock(ctx, p.ID, 9, 6)
		require.NoError(t, err)
		assert.False(t, ok, "stale expectation must not write")

		ok, err = tx.CompareAndSetStock(ctx, p.ID, 10, 7)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = tx.GetStock(ctx, 424242)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Stock)
}

func TestDuplicateLineIsRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := mustCreateProduct(t, s, "Galletas", "", 10)
	err := s.RunInTx(ctx, func(tx store.Tx) error {
		id, err := tx.InsertSale(ctx, domain.Sale{SoldAt: time.Now().UTC(), Total: decimal.RequireFromString("10")})
		if err != nil {
			return err
		}
		line := domain.SaleLineItem{ProductID: p.ID, Quantity: 1, UnitSalePrice: p.SalePrice}
		return tx.InsertSaleLines(ctx, id, []domain.SaleLineItem{line, line})
	})
	assert.ErrorIs(t, err, store.ErrInvalid)
}

func TestDailyProjectionsGroupByUTCDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreateProduct(t, s, "A", "", 100)
	day1 := time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)
	day2 := time.Date(2024, 6, 2, 0, 15, 0, 0, time.UTC)

	commitTestSale(t, s, day1, domain.SaleLineItem{ProductID: a.ID, Quantity: 2, UnitSalePrice: decimal.RequireFromString("5.00"), UnitPurchasePrice: decimal.RequireFromString("3.00")})
	commitTestSale(t, s, day1.Add(10*time.Minute), domain.SaleLineItem{ProductID: a.ID, Quantity: 1, UnitSalePrice: decimal.RequireFromString("5.00"), UnitPurchasePrice: decimal.RequireFromString("3.00")})
	commitTestSale(t, s, day2, domain.SaleLineItem{ProductID: a.ID, Quantity: 3, UnitSalePrice: decimal.RequireFromString("2.50"), UnitPurchasePrice: decimal.RequireFromString("1.25")})

	from := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	sales, err := s.DailySales(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "2024-06-01", sales[0].Day)
	assert.Equal(t, "01/06", sales[0].Label)
	assert.True(t, sales[0].Amount.Equal(decimal.RequireFromString("15")), sales[0].Amount.String())
	assert.True(t, sales[1].Amount.Equal(decimal.RequireFromString("7.5")), sales[1].Amount.String())

	margin, err := s.DailyMargin(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, margin, 2)
	assert.True(t, margin[0].Amount.Equal(decimal.RequireFromString("6")), margin[0].Amount.String())
	assert.True(t, margin[1].Amount.Equal(decimal.RequireFromString("3.75")), margin[1].Amount.String())

	again, err := s.DailyMargin(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, margin, again)
}

func TestLowStockAndExpiring(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateProduct(t, s, "Plenty", "", 50)
	low := mustCreateProduct(t, s, "Low", "", 2)

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	soon := now.AddDate(0, 0, 10)
	later := now.AddDate(0, 0, 90)
	for name, expiry := range map[string]time.Time{"Soon": soon, "Later": later} {
		e := expiry
		_, err := s.CreateProduct(ctx, domain.Product{Name: name, PurchaseDate: now, Stock: 20, ExpiryDate: &e})
		require.NoError(t, err)
	}

	lowStock, err := s.ListLowStock(ctx, 5)
	require.NoError(t, err)
	require.Len(t, lowStock, 1)
	assert.Equal(t, low.ID, lowStock[0].ID)

	expiring, err := s.ListExpiring(ctx, now, now.AddDate(0, 0, 30))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "Soon", expiring[0].Name)
}

func TestCategoriesCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.CreateCategory(ctx, domain.Category{Name: "Bebidas"})
	require.NoError(t, err)

	c.Name = "Bebidas frías"
	_, err = s.UpdateCategory(ctx, *c)
	require.NoError(t, err)

	got, err := s.GetCategory(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bebidas frías", got.Name)

	require.NoError(t, s.DeleteCategory(ctx, c.ID))
	_, err = s.GetCategory(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithClosedReopensHandle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateProduct(t, s, "Persisted", "", 1)

	var seenPath string
	err := s.WithClosed(ctx, func(path string) error {
		seenPath = path
		_, statErr := os.Stat(path)
		return statErr
	})
	require.NoError(t, err)
	assert.Equal(t, s.Path(), seenPath)

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestCloseThenReopen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Close())
	_, err := s.ListProducts(ctx)
	assert.ErrorIs(t, err, store.ErrClosed)

	require.NoError(t, s.Reopen(ctx))
	_, err = s.ListProducts(ctx)
	assert.NoError(t, err)
}
