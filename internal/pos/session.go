// Package pos binds a cart to the live catalogue and the sale committer for
// one point-of-sale terminal.
package pos

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"bodega/backend/internal/cart"
	"bodega/backend/internal/domain"
	"bodega/backend/internal/worker"
)

type Catalog interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	LookupBarcode(ctx context.Context, barcode string) (domain.Product, bool, error)
}

type Committer interface {
	CommitSale(ctx context.Context, req domain.CommitSaleRequest) (domain.Sale, error)
}

type View struct {
	Lines []cart.Line     `json:"lines"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// Session serialises access to a single cart. Checkout holds the lock for the
// whole commit so the cart cannot change underneath it.
type Session struct {
	mu        sync.Mutex
	cart      *cart.Cart
	catalog   Catalog
	committer Committer
	pool      *worker.Pool
}

func NewSession(catalog Catalog, committer Committer, pool *worker.Pool) *Session {
	return &Session{
		cart:      cart.New(),
		catalog:   catalog,
		committer: committer,
		pool:      pool,
	}
}

// AddProduct adds one unit, checking against the stock currently stored.
func (s *Session) AddProduct(ctx context.Context, productID int64) (bool, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.AddLine(product), nil
}

// AddBarcode is AddProduct keyed by barcode. An unknown code is reported
// through found, not as an error.
func (s *Session) AddBarcode(ctx context.Context, barcode string) (found bool, added bool, err error) {
	product, found, err := s.catalog.LookupBarcode(ctx, barcode)
	if err != nil || !found {
		return found, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return true, s.cart.AddLine(product), nil
}

func (s *Session) SetQuantity(productID int64, quantity int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.SetLineQuantity(productID, quantity)
}

func (s *Session) Remove(productID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.RemoveLine(productID)
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.Clear()
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	return View{
		Lines: s.cart.Lines(),
		Total: s.cart.Total(),
		Count: s.cart.Len(),
	}
}

// Checkout commits the cart and empties it on success. On failure the cart
// is left exactly as it was.
func (s *Session) Checkout(ctx context.Context) (domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cart.Len() == 0 {
		return domain.Sale{}, domain.NewValidationError("lines", "cart is empty")
	}

	sale, err := s.committer.CommitSale(ctx, domain.CommitSaleRequest{Lines: s.cart.CheckoutLines()})
	if err != nil {
		return domain.Sale{}, err
	}
	s.cart.Clear()
	return sale, nil
}

func (s *Session) CheckoutAsync(ctx context.Context) *worker.Future[domain.Sale] {
	return worker.Go(s.pool, ctx, s.Checkout)
}
