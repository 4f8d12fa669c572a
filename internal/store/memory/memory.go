package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bodega/backend/internal/domain"
	"bodega/backend/internal/store"
)

type state struct {
	products       map[int64]domain.Product
	categories     map[int64]domain.Category
	sales          map[int64]domain.Sale
	lines          map[int64][]domain.SaleLineItem
	nextProductID  int64
	nextCategoryID int64
	nextSaleID     int64
}

func newState() *state {
	return &state{
		products:   make(map[int64]domain.Product),
		categories: make(map[int64]domain.Category),
		sales:      make(map[int64]domain.Sale),
		lines:      make(map[int64][]domain.SaleLineItem),
	}
}

func (st *state) clone() *state {
	out := &state{
		products:       make(map[int64]domain.Product, len(st.products)),
		categories:     make(map[int64]domain.Category, len(st.categories)),
		sales:          make(map[int64]domain.Sale, len(st.sales)),
		lines:          make(map[int64][]domain.SaleLineItem, len(st.lines)),
		nextProductID:  st.nextProductID,
		nextCategoryID: st.nextCategoryID,
		nextSaleID:     st.nextSaleID,
	}
	for id, p := range st.products {
		out.products[id] = p
	}
	for id, c := range st.categories {
		out.categories[id] = c
	}
	for id, sale := range st.sales {
		out.sales[id] = sale
	}
	for id, lines := range st.lines {
		out.lines[id] = slices.Clone(lines)
	}
	return out
}

// Store keeps the whole catalogue and ledger in process memory. It is the
// repository used by tests and by DB_DRIVER=memory.
type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

// NewSeeded returns a store preloaded with a small demo catalogue.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC().Truncate(time.Millisecond)
	for _, name := range []string{"Abarrotes", "Bebidas", "Lácteos", "Limpieza"} {
		s.st.nextCategoryID++
		s.st.categories[s.st.nextCategoryID] = domain.Category{ID: s.st.nextCategoryID, Name: name}
	}

	expiry := now.AddDate(0, 0, 12)
	for _, p := range []domain.Product{
		{Name: "Arroz Costeño 1kg", Category: "Abarrotes", PurchasePrice: decimal.RequireFromString("3.20"), SalePrice: decimal.RequireFromString("4.50"), Stock: 40, Barcode: "7750243000011"},
		{Name: "Aceite Primor 1L", Category: "Abarrotes", PurchasePrice: decimal.RequireFromString("7.80"), SalePrice: decimal.RequireFromString("9.90"), Stock: 18, Barcode: "7750243000028"},
		{Name: "Inca Kola 500ml", Category: "Bebidas", PurchasePrice: decimal.RequireFromString("1.60"), SalePrice: decimal.RequireFromString("2.50"), Stock: 60, Barcode: "7750243000035"},
		{Name: "Leche Gloria 400g", Category: "Lácteos", PurchasePrice: decimal.RequireFromString("3.10"), SalePrice: decimal.RequireFromString("4.20"), Stock: 4, ExpiryDate: &expiry, Barcode: "7750243000042"},
		{Name: "Detergente Bolívar 750g", Category: "Limpieza", PurchasePrice: decimal.RequireFromString("8.40"), SalePrice: decimal.RequireFromString("11.00"), Stock: 9},
	} {
		s.st.nextProductID++
		p.ID = s.st.nextProductID
		p.PurchaseDate = now
		s.st.products[p.ID] = p
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.st.products))
	for _, p := range s.st.products {
		products = append(products, p)
	}
	sortProductsByName(products)
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, store.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.st.products {
		if p.Barcode == barcode {
			out := p
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.barcodeTaken(product.Barcode, 0) {
		return nil, store.ErrDuplicateBarcode
	}
	s.st.nextProductID++
	product.ID = s.st.nextProductID
	s.st.products[product.ID] = product
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == 0 || product.Name == "" {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.st.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.barcodeTaken(product.Barcode, product.ID) {
		return nil, store.ErrDuplicateBarcode
	}
	product.PurchaseDate = existing.PurchaseDate
	s.st.products[product.ID] = product
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.products[id]; !ok {
		return store.ErrNotFound
	}
	for _, lines := range s.st.lines {
		for _, line := range lines {
			if line.ProductID == id {
				return store.ErrProductReferenced
			}
		}
	}
	delete(s.st.products, id)
	return nil
}

func (s *Store) ListLowStock(_ context.Context, threshold int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0)
	for _, p := range s.st.products {
		if p.Stock <= threshold {
			products = append(products, p)
		}
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Stock != products[j].Stock {
			return products[i].Stock < products[j].Stock
		}
		return products[i].Name < products[j].Name
	})
	return products, nil
}

func (s *Store) ListExpiring(_ context.Context, from time.Time, to time.Time) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0)
	for _, p := range s.st.products {
		if p.ExpiryDate == nil {
			continue
		}
		if p.ExpiryDate.Before(from) || p.ExpiryDate.After(to) {
			continue
		}
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		return products[i].ExpiryDate.Before(*products[j].ExpiryDate)
	})
	return products, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.st.categories))
	for _, c := range s.st.categories {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool {
		return categories[i].Name < categories[j].Name
	})
	return categories, nil
}

func (s *Store) GetCategory(_ context.Context, id int64) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.st.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	if category.Name == "" {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.nextCategoryID++
	category.ID = s.st.nextCategoryID
	s.st.categories[category.ID] = category
	return &category, nil
}

func (s *Store) UpdateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	if category.ID == 0 || category.Name == "" {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.categories[category.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.st.categories[category.ID] = category
	return &category, nil
}

func (s *Store) DeleteCategory(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.categories[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.st.categories, id)
	return nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.st.sales))
	for _, sale := range s.st.sales {
		sales = append(sales, sale)
	}
	sort.Slice(sales, func(i, j int) bool {
		if !sales[i].SoldAt.Equal(sales[j].SoldAt) {
			return sales[i].SoldAt.After(sales[j].SoldAt)
		}
		return sales[i].ID > sales[j].ID
	})
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale.Lines = slices.Clone(s.st.lines[id])
	return &sale, nil
}

func (s *Store) DeleteSale(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.sales[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.st.sales, id)
	delete(s.st.lines, id)
	return nil
}

func (s *Store) DailySales(_ context.Context, from time.Time, to time.Time) ([]domain.DailyPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := map[string]decimal.Decimal{}
	for _, sale := range s.st.sales {
		if !inWindow(sale.SoldAt, from, to) {
			continue
		}
		day := sale.SoldAt.UTC().Format(domain.DayLayout)
		totals[day] = totals[day].Add(sale.Total)
	}
	return toPoints(totals), nil
}

func (s *Store) DailyMargin(_ context.Context, from time.Time, to time.Time) ([]domain.DailyPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := map[string]decimal.Decimal{}
	for id, sale := range s.st.sales {
		if !inWindow(sale.SoldAt, from, to) {
			continue
		}
		day := sale.SoldAt.UTC().Format(domain.DayLayout)
		for _, line := range s.st.lines[id] {
			totals[day] = totals[day].Add(line.Margin())
		}
	}
	return toPoints(totals), nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) barcodeTaken(barcode string, exceptID int64) bool {
	if barcode == "" {
		return false
	}
	for id, p := range s.st.products {
		if id != exceptID && p.Barcode == barcode {
			return true
		}
	}
	return false
}

type memTx struct {
	st *state
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) (int64, error) {
	t.st.nextSaleID++
	sale.ID = t.st.nextSaleID
	sale.Lines = nil
	t.st.sales[sale.ID] = sale
	return sale.ID, nil
}

func (t *memTx) InsertSaleLines(_ context.Context, saleID int64, lines []domain.SaleLineItem) error {
	if _, ok := t.st.sales[saleID]; !ok {
		return fmt.Errorf("sale %d: %w", saleID, store.ErrNotFound)
	}
	existing := t.st.lines[saleID]
	for _, line := range lines {
		if line.Quantity < 1 {
			return store.ErrInvalid
		}
		if _, ok := t.st.products[line.ProductID]; !ok {
			return fmt.Errorf("product %d: %w", line.ProductID, store.ErrNotFound)
		}
		for _, prev := range existing {
			if prev.ProductID == line.ProductID {
				return fmt.Errorf("duplicate line for product %d: %w", line.ProductID, store.ErrInvalid)
			}
		}
		line.SaleID = saleID
		existing = append(existing, line)
	}
	t.st.lines[saleID] = existing
	return nil
}

func (t *memTx) GetStock(_ context.Context, productID int64) (int, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return 0, fmt.Errorf("product %d: %w", productID, store.ErrNotFound)
	}
	return p.Stock, nil
}

func (t *memTx) CompareAndSetStock(_ context.Context, productID int64, expected int, next int) (bool, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return false, fmt.Errorf("product %d: %w", productID, store.ErrNotFound)
	}
	if p.Stock != expected {
		return false, nil
	}
	p.Stock = next
	t.st.products[productID] = p
	return true, nil
}

func sortProductsByName(products []domain.Product) {
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
}

func inWindow(at time.Time, from time.Time, to time.Time) bool {
	return !at.Before(from) && at.Before(to)
}

func toPoints(totals map[string]decimal.Decimal) []domain.DailyPoint {
	points := make([]domain.DailyPoint, 0, len(totals))
	for day, amount := range totals {
		points = append(points, domain.DailyPoint{
			Day:    day,
			Label:  domain.DayLabel(day),
			Amount: amount.Round(2),
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Day < points[j].Day })
	return points
}
