// Package checkout commits a sale as one atomic unit: the header, its line
// items and the stock decrement of every product involved.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bodega/backend/internal/domain"
	"bodega/backend/internal/store"
)

// Stage names a point inside the unit of work where a fault hook runs.
type Stage int

const (
	StageHeaderInserted Stage = iota + 1
	StageLinesInserted
	StageStockUpdated
)

func (s Stage) String() string {
	switch s {
	case StageHeaderInserted:
		return "header_inserted"
	case StageLinesInserted:
		return "lines_inserted"
	case StageStockUpdated:
		return "stock_updated"
	default:
		return "unknown"
	}
}

type Options struct {
	// AllowNegativeStock lets a decrement drive stock below zero. The write
	// is still compare-and-swap so concurrent commits never lose an update.
	AllowNegativeStock bool
	MaxTries           uint
	RetryInterval      time.Duration
	// OnRetry is called after an attempt lost a stock race.
	OnRetry func(attempt int, err error)
}

type Option func(*Coordinator)

// WithFaultHook installs fn to run at each Stage inside the transaction. A
// non-nil return aborts the unit of work.
func WithFaultHook(fn func(Stage) error) Option {
	return func(c *Coordinator) {
		c.fault = fn
	}
}

type Coordinator struct {
	repo  store.Repository
	opts  Options
	fault func(Stage) error
}

func New(repo store.Repository, opts Options, extra ...Option) *Coordinator {
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 20 * time.Millisecond
	}
	c := &Coordinator{repo: repo, opts: opts}
	for _, apply := range extra {
		apply(c)
	}
	return c
}

type Result struct {
	SaleID     int64
	Total      decimal.Decimal
	Lines      []domain.SaleLineItem
	ProductIDs []int64
	Attempts   int
}

// Commit validates lines, then persists the sale and decrements stock in a
// single unit of work. Stock is re-read inside the unit; the cart's copy is
// never trusted. The caller's cancellation is ignored once the commit starts.
func (c *Coordinator) Commit(ctx context.Context, lines []domain.CheckoutLine, at time.Time) (Result, error) {
	saleLines, err := normalizeLines(lines)
	if err != nil {
		return Result{}, err
	}

	ctx = context.WithoutCancel(ctx)
	ctx, span := otel.Tracer("bodega/checkout").Start(ctx, "checkout.Commit")
	defer span.End()

	total := decimal.Zero
	for _, line := range saleLines {
		total = total.Add(line.Subtotal())
	}
	soldAt := at.UTC().Truncate(time.Millisecond)
	quantities, productIDs := quantitiesByProduct(saleLines)

	span.SetAttributes(
		attribute.Int("sale.lines", len(saleLines)),
		attribute.String("sale.total", total.StringFixed(2)),
	)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.RetryInterval
	bo.MaxInterval = 10 * c.opts.RetryInterval

	attempts := 0
	saleID, err := backoff.Retry(ctx, func() (int64, error) {
		attempts++
		id, err := c.attempt(ctx, soldAt, total, saleLines, quantities, productIDs)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, store.ErrStockConflict) {
			if c.opts.OnRetry != nil {
				c.opts.OnRetry(attempts, err)
			}
			return 0, err
		}
		return 0, backoff.Permanent(err)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.opts.MaxTries),
	)
	span.SetAttributes(attribute.Int("sale.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit rolled back")
		return Result{Attempts: attempts}, &domain.CommitError{Err: err}
	}

	span.SetAttributes(attribute.Int64("sale.id", saleID))
	for i := range saleLines {
		saleLines[i].SaleID = saleID
	}
	return Result{
		SaleID:     saleID,
		Total:      total,
		Lines:      saleLines,
		ProductIDs: productIDs,
		Attempts:   attempts,
	}, nil
}

func (c *Coordinator) attempt(ctx context.Context, soldAt time.Time, total decimal.Decimal, lines []domain.SaleLineItem, quantities map[int64]int, productIDs []int64) (int64, error) {
	var saleID int64
	err := c.repo.RunInTx(ctx, func(tx store.Tx) error {
		id, err := tx.InsertSale(ctx, domain.Sale{SoldAt: soldAt, Total: total})
		if err != nil {
			return fmt.Errorf("insert sale header: %w", err)
		}
		if err := c.hook(StageHeaderInserted); err != nil {
			return err
		}

		if err := tx.InsertSaleLines(ctx, id, lines); err != nil {
			return fmt.Errorf("insert sale lines: %w", err)
		}
		if err := c.hook(StageLinesInserted); err != nil {
			return err
		}

		for _, productID := range productIDs {
			current, err := tx.GetStock(ctx, productID)
			if err != nil {
				return fmt.Errorf("read stock: %w", err)
			}
			next := current - quantities[productID]
			if next < 0 && !c.opts.AllowNegativeStock {
				return fmt.Errorf("product %d has %d, need %d: %w", productID, current, quantities[productID], store.ErrInsufficientStock)
			}
			ok, err := tx.CompareAndSetStock(ctx, productID, current, next)
			if err != nil {
				return fmt.Errorf("write stock: %w", err)
			}
			if !ok {
				return fmt.Errorf("product %d: %w", productID, store.ErrStockConflict)
			}
		}
		if err := c.hook(StageStockUpdated); err != nil {
			return err
		}

		saleID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saleID, nil
}

func (c *Coordinator) hook(stage Stage) error {
	if c.fault == nil {
		return nil
	}
	if err := c.fault(stage); err != nil {
		return fmt.Errorf("at %s: %w", stage, err)
	}
	return nil
}

// normalizeLines rejects malformed input and folds repeated lines for the
// same product. Repeats must carry identical price snapshots.
func normalizeLines(lines []domain.CheckoutLine) ([]domain.SaleLineItem, error) {
	if len(lines) == 0 {
		return nil, domain.NewValidationError("lines", "cart is empty")
	}

	index := make(map[int64]int, len(lines))
	out := make([]domain.SaleLineItem, 0, len(lines))
	for i, line := range lines {
		field := fmt.Sprintf("lines[%d]", i)
		if line.ProductID <= 0 {
			return nil, domain.NewValidationError(field+".product_id", "product is required")
		}
		if line.Quantity <= 0 {
			return nil, domain.NewValidationError(field+".quantity", "quantity must be positive")
		}
		if line.UnitSalePrice.IsNegative() || line.UnitPurchasePrice.IsNegative() {
			return nil, domain.NewValidationError(field, "prices must not be negative")
		}

		if pos, seen := index[line.ProductID]; seen {
			prev := out[pos]
			if !prev.UnitSalePrice.Equal(line.UnitSalePrice) || !prev.UnitPurchasePrice.Equal(line.UnitPurchasePrice) {
				return nil, domain.NewValidationError(field, "product repeated with different prices")
			}
			out[pos].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, domain.SaleLineItem{
			ProductID:         line.ProductID,
			Quantity:          line.Quantity,
			UnitSalePrice:     line.UnitSalePrice,
			UnitPurchasePrice: line.UnitPurchasePrice,
		})
	}
	return out, nil
}

func quantitiesByProduct(lines []domain.SaleLineItem) (map[int64]int, []int64) {
	quantities := make(map[int64]int, len(lines))
	for _, line := range lines {
		quantities[line.ProductID] += line.Quantity
	}
	ids := make([]int64, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return quantities, ids
}
