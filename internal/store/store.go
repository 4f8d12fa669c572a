package store

import (
	"context"
	"errors"
	"time"

	"bodega/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalid           = errors.New("invalid record")
	ErrDuplicateBarcode  = errors.New("barcode already registered")
	ErrProductReferenced = errors.New("product is referenced by a committed sale")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStockConflict     = errors.New("stock changed concurrently")
	ErrClosed            = errors.New("store is closed")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	ListLowStock(ctx context.Context, threshold int) ([]domain.Product, error)
	ListExpiring(ctx context.Context, from time.Time, to time.Time) ([]domain.Product, error)

	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id int64) (*domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	DeleteCategory(ctx context.Context, id int64) error

	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id int64) error
	DailySales(ctx context.Context, from time.Time, to time.Time) ([]domain.DailyPoint, error)
	DailyMargin(ctx context.Context, from time.Time, to time.Time) ([]domain.DailyPoint, error)

	// RunInTx applies every write made through tx atomically. Any error
	// returned by fn discards all of them.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the narrow write surface available inside a unit of work.
type Tx interface {
	InsertSale(ctx context.Context, sale domain.Sale) (int64, error)
	InsertSaleLines(ctx context.Context, saleID int64, lines []domain.SaleLineItem) error
	GetStock(ctx context.Context, productID int64) (int, error)
	// CompareAndSetStock writes next only if the stored stock still equals
	// expected. It reports false when another writer got there first.
	CompareAndSetStock(ctx context.Context, productID int64, expected int, next int) (bool, error)
}

// Lifecycle is implemented by handles that own an on-disk database file.
type Lifecycle interface {
	Path() string
	WithClosed(ctx context.Context, fn func(path string) error) error
}
