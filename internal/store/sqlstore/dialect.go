package sqlstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type dialect interface {
	name() string
	driverName() string
	dsn(source string) string
	fileBacked() bool
	configure(db *sqlx.DB)
	schema() []string
	dayExpr(column string) string
	isUniqueViolation(err error) bool
	isForeignKeyViolation(err error) bool
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }
func (sqliteDialect) driverName() string { return "sqlite" }
func (sqliteDialect) fileBacked() bool { return true }

func (sqliteDialect) dsn(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// configure pins sqlite to a single connection so writers never contend
// for the database lock inside the process.
func (sqliteDialect) configure(db *sqlx.DB) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
}

func (sqliteDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			purchase_price REAL NOT NULL DEFAULT 0,
			sale_price REAL NOT NULL DEFAULT 0,
			stock INTEGER NOT NULL DEFAULT 0,
			purchase_date INTEGER NOT NULL,
			expiry_date INTEGER,
			image_ref TEXT,
			barcode TEXT UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sold_at INTEGER NOT NULL,
			total REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sale_line_items (
			sale_id INTEGER NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
			product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			unit_sale_price REAL NOT NULL,
			unit_purchase_price REAL NOT NULL,
			PRIMARY KEY (sale_id, product_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_line_items_product ON sale_line_items (product_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_sold_at ON sales (sold_at)`,
		`CREATE INDEX IF NOT EXISTS idx_products_expiry ON products (expiry_date)`,
	}
}

func (sqliteDialect) dayExpr(column string) string {
	return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s / 1000, 'unixepoch')", column)
}

func (sqliteDialect) isUniqueViolation(err error) bool {
	return sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// isForeignKeyViolation also accepts SQLITE_CONSTRAINT_TRIGGER: an
// ON DELETE RESTRICT reference is reported with that code, not 787.
func (sqliteDialect) isForeignKeyViolation(err error) bool {
	switch sqliteCode(err) {
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT_TRIGGER:
		return strings.Contains(err.Error(), "FOREIGN KEY")
	default:
		return false
	}
}

func sqliteCode(err error) int {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()
	}
	return 0
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }
func (postgresDialect) driverName() string { return "pgx" }
func (postgresDialect) dsn(url string) string { return url }
func (postgresDialect) fileBacked() bool { return false }

func (postgresDialect) configure(db *sqlx.DB) {
	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)
}

func (postgresDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			purchase_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			sale_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			stock INTEGER NOT NULL DEFAULT 0,
			purchase_date BIGINT NOT NULL,
			expiry_date BIGINT,
			image_ref TEXT,
			barcode TEXT UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id BIGSERIAL PRIMARY KEY,
			sold_at BIGINT NOT NULL,
			total DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sale_line_items (
			sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
			product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			unit_sale_price DOUBLE PRECISION NOT NULL,
			unit_purchase_price DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (sale_id, product_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_line_items_product ON sale_line_items (product_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_sold_at ON sales (sold_at)`,
		`CREATE INDEX IF NOT EXISTS idx_products_expiry ON products (expiry_date)`,
	}
}

func (postgresDialect) dayExpr(column string) string {
	return fmt.Sprintf("to_char(to_timestamp(%s / 1000.0) AT TIME ZONE 'UTC', 'YYYY-MM-DD')", column)
}

func (postgresDialect) isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func (postgresDialect) isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
