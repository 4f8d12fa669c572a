package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"bodega/backend/internal/domain"
	"bodega/backend/internal/store"
)

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}

	var rows []productRow
	if err := db.SelectContext(ctx, &rows, `SELECT `+productColumns+` FROM products ORDER BY name, id`); err != nil {
		return nil, err
	}
	return toProducts(rows), nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}
	return getProduct(ctx, db, id)
}

func getProduct(ctx context.Context, q sqlxQueryer, id int64) (*domain.Product, error) {
	var row productRow
	err := q.GetContext(ctx, &row, q.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, store.ErrNotFound
	}

	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}

	var row productRow
	err = db.GetContext(ctx, &row, db.Rebind(`SELECT `+productColumns+` FROM products WHERE barcode = ?`), barcode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" {
		return nil, store.ErrInvalid
	}

	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}

	var id int64
	err = db.QueryRowxContext(ctx, db.Rebind(`
		INSERT INTO products (name, category, purchase_price, sale_price, stock, purchase_date, expiry_date, image_ref, barcode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`),
		product.Name,
		product.Category,
		money(product.PurchasePrice),
		money(product.SalePrice),
		product.Stock,
		millis(product.PurchaseDate),
		nullMillis(product.ExpiryDate),
		nullIfEmpty(product.ImageRef),
		nullIfEmpty(product.Barcode),
	).Scan(&id)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return nil, store.ErrDuplicateBarcode
		}
		return nil, err
	}
	return getProduct(ctx, db, id)
}

// UpdateProduct rewrites every mutable column. purchase_date is never
// touched after insert.
func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == 0 || product.Name == "" {
		return nil, store.ErrInvalid
	}

	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}

	res, err := db.ExecContext(ctx, db.Rebind(`
		UPDATE products
		SET name = ?, category = ?, purchase_price = ?, sale_price = ?, stock = ?,
			expiry_date = ?, image_ref = ?, barcode = ?
		WHERE id = ?
	`),
		product.Name,
		product.Category,
		money(product.PurchasePrice),
		money(product.SalePrice),
		product.Stock,
		nullMillis(product.ExpiryDate),
		nullIfEmpty(product.ImageRef),
		nullIfEmpty(product.Barcode),
		product.ID,
	)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return nil, store.ErrDuplicateBarcode
		}
		return nil, err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, store.ErrNotFound
	}
	return getProduct(ctx, db, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM products WHERE id = ?`), id)
	if err != nil {
		if s.dialect.isForeignKeyViolation(err) {
			return store.ErrProductReferenced
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListLowStock(ctx context.Context, threshold int) ([]domain.Product, error) {
	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}

	var rows []productRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(`
		SELECT `+productColumns+`
		FROM products
		WHERE stock <= ?
		ORDER BY stock, name
	`), threshold); err != nil {
		return nil, err
	}
	return toProducts(rows), nil
}

func (s *Store) ListExpiring(ctx context.Context, from time.Time, to time.Time) ([]domain.Product, error) {
	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}

	var rows []productRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(`
		SELECT `+productColumns+`
		FROM products
		WHERE expiry_date IS NOT NULL AND expiry_date BETWEEN ? AND ?
		ORDER BY expiry_date
	`), millis(from), millis(to)); err != nil {
		return nil, err
	}
	return toProducts(rows), nil
}

type sqlxQueryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	Rebind(query string) string
}
