package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"bodega/backend/internal/domain"
	"bodega/backend/internal/events"
	"bodega/backend/internal/store"
)

const (
	defaultSalesLimit = 50
	maxSalesLimit     = 500
)

// CommitSale persists the lines as one sale and decrements stock. On success
// the report is invalidated and product and sale watchers are notified.
func (s *Service) CommitSale(ctx context.Context, req domain.CommitSaleRequest) (domain.Sale, error) {
	ctx, span := otel.Tracer("bodega/service").Start(ctx, "service.CommitSale")
	defer span.End()

	if err := s.check(req); err != nil {
		return domain.Sale{}, err
	}

	at := s.now()
	if req.SoldAt != nil {
		at = *req.SoldAt
	}

	started := time.Now()
	res, err := s.coord.Commit(ctx, req.Lines, at)
	elapsed := time.Since(started)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return domain.Sale{}, err
		}
		s.metrics.SaleFailed(failureReason(err), elapsed)
		s.log.WithError(err).WithField("attempts", res.Attempts).Warn("sale commit rolled back")
		return domain.Sale{}, err
	}

	s.ledgerChanged(events.TopicSales, events.TopicProducts)
	s.metrics.SaleCommitted(res.Total, elapsed)
	span.SetAttributes(attribute.Int64("sale.id", res.SaleID))
	s.log.WithFields(logrus.Fields{
		"sale_id":  res.SaleID,
		"total":    res.Total.StringFixed(2),
		"lines":    len(res.Lines),
		"attempts": res.Attempts,
	}).Info("sale committed")

	return domain.Sale{
		ID:     res.SaleID,
		SoldAt: at.UTC().Truncate(time.Millisecond),
		Total:  res.Total,
		Lines:  res.Lines,
	}, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = defaultSalesLimit
	}
	if limit > maxSalesLimit {
		limit = maxSalesLimit
	}
	return s.repo.ListSales(ctx, limit)
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, notFound("sale", id, err)
	}
	return *sale, nil
}

// DeleteSale removes the sale and its lines. Stock is not given back.
func (s *Service) DeleteSale(ctx context.Context, id int64) error {
	if err := s.repo.DeleteSale(ctx, id); err != nil {
		return notFound("sale", id, err)
	}
	s.ledgerChanged(events.TopicSales)
	s.log.WithField("sale_id", id).Info("sale deleted")
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrStockConflict):
		return "stock_conflict"
	case errors.Is(err, store.ErrNotFound):
		return "unknown_product"
	case errors.Is(err, store.ErrClosed):
		return "store_closed"
	default:
		return "storage"
	}
}
