package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bodega/backend/internal/domain"
	"bodega/backend/internal/store"
)

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}

	query := `SELECT id, sold_at, total FROM sales ORDER BY sold_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []saleRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, len(rows))
	for _, row := range rows {
		sales = append(sales, row.toDomain())
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}

	var header saleRow
	err = db.GetContext(ctx, &header, db.Rebind(`SELECT id, sold_at, total FROM sales WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var lines []lineRow
	if err := db.SelectContext(ctx, &lines, db.Rebind(`
		SELECT sale_id, product_id, quantity, unit_sale_price, unit_purchase_price
		FROM sale_line_items
		WHERE sale_id = ?
		ORDER BY product_id
	`), id); err != nil {
		return nil, err
	}

	sale := header.toDomain()
	sale.Lines = make([]domain.SaleLineItem, 0, len(lines))
	for _, line := range lines {
		sale.Lines = append(sale.Lines, domain.SaleLineItem{
			SaleID:            line.SaleID,
			ProductID:         line.ProductID,
			Quantity:          line.Quantity,
			UnitSalePrice:     fromMoney(line.UnitSalePrice),
			UnitPurchasePrice: fromMoney(line.UnitPurchasePrice),
		})
	}
	return &sale, nil
}

// DeleteSale removes the header; line items go with it through the
// cascading foreign key.
func (s *Store) DeleteSale(ctx context.Context, id int64) error {
	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM sales WHERE id = ?`), id)
	if err != nil {
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

func (s *Store) DailySales(ctx context.Context, from time.Time, to time.Time) ([]domain.DailyPoint, error) {
	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s AS day, SUM(total) AS amount
		FROM sales
		WHERE sold_at >= ? AND sold_at < ?
		GROUP BY day
		ORDER BY day
	`, s.dialect.dayExpr("sold_at"))

	var rows []dayRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), millis(from), millis(to)); err != nil {
		return nil, err
	}
	return toPoints(rows), nil
}

func (s *Store) DailyMargin(ctx context.Context, from time.Time, to time.Time) ([]domain.DailyPoint, error) {
	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s AS day, SUM((li.unit_sale_price - li.unit_purchase_price) * li.quantity) AS amount
		FROM sale_line_items li
		JOIN sales s ON s.id = li.sale_id
		WHERE s.sold_at >= ? AND s.sold_at < ?
		GROUP BY day
		ORDER BY day
	`, s.dialect.dayExpr("s.sold_at"))

	var rows []dayRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), millis(from), millis(to)); err != nil {
		return nil, err
	}
	return toPoints(rows), nil
}

func (t *sqlTx) InsertSale(ctx context.Context, sale domain.Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRowxContext(ctx, t.tx.Rebind(`INSERT INTO sales (sold_at, total) VALUES (?, ?) RETURNING id`),
		millis(sale.SoldAt), money(sale.Total),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (t *sqlTx) InsertSaleLines(ctx context.Context, saleID int64, lines []domain.SaleLineItem) error {
	stmt, err := t.tx.PreparexContext(ctx, t.tx.Rebind(`
		INSERT INTO sale_line_items (sale_id, product_id, quantity, unit_sale_price, unit_purchase_price)
		VALUES (?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, line := range lines {
		if line.Quantity < 1 {
			return store.ErrInvalid
		}
		if _, err := stmt.ExecContext(ctx, saleID, line.ProductID, line.Quantity, money(line.UnitSalePrice), money(line.UnitPurchasePrice)); err != nil {
			switch {
			case t.dialect.isForeignKeyViolation(err):
				return fmt.Errorf("product %d: %w", line.ProductID, store.ErrNotFound)
			case t.dialect.isUniqueViolation(err):
				return fmt.Errorf("duplicate line for product %d: %w", line.ProductID, store.ErrInvalid)
			default:
				return err
			}
		}
	}
	return nil
}

func (t *sqlTx) GetStock(ctx context.Context, productID int64) (int, error) {
	var stock int
	err := t.tx.GetContext(ctx, &stock, t.tx.Rebind(`SELECT stock FROM products WHERE id = ?`), productID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("product %d: %w", productID, store.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return stock, nil
}

func (t *sqlTx) CompareAndSetStock(ctx context.Context, productID int64, expected int, next int) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`UPDATE products SET stock = ? WHERE id = ? AND stock = ?`), next, productID, expected)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
