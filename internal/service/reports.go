package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"

	"bodega/backend/internal/domain"
	"bodega/backend/internal/events"
	"bodega/backend/internal/worker"
)

func (s *Service) TrailingReport(ctx context.Context) (domain.SalesReport, error) {
	return s.projection.Trailing(ctx)
}

// ReportGeneration changes whenever the ledger does.
func (s *Service) ReportGeneration() uint64 {
	return s.projection.Generation()
}

// Dashboard gathers the report and both product alerts in parallel.
func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	ctx, span := otel.Tracer("bodega/service").Start(ctx, "service.Dashboard")
	defer span.End()

	reportF := worker.Go(s.pool, ctx, s.TrailingReport)
	lowF := worker.Go(s.pool, ctx, func(ctx context.Context) ([]domain.Product, error) {
		return s.LowStock(ctx, s.lowStockThreshold)
	})
	expiringF := worker.Go(s.pool, ctx, func(ctx context.Context) ([]domain.Product, error) {
		return s.Expiring(ctx, s.expiryWindowDays)
	})

	rep, err := reportF.Await(ctx)
	if err != nil {
		return domain.Dashboard{}, fmt.Errorf("dashboard report: %w", err)
	}
	low, err := lowF.Await(ctx)
	if err != nil {
		return domain.Dashboard{}, fmt.Errorf("dashboard low stock: %w", err)
	}
	expiring, err := expiringF.Await(ctx)
	if err != nil {
		return domain.Dashboard{}, fmt.Errorf("dashboard expiring: %w", err)
	}

	return domain.Dashboard{
		Report:            rep,
		LowStock:          low,
		LowStockThreshold: s.lowStockThreshold,
		Expiring:          expiring,
		ExpiryWindowDays:  s.expiryWindowDays,
		TotalMargin:       rep.TotalMargin,
		GeneratedAt:       s.timestamp(),
	}, nil
}

func (s *Service) WatchProducts(ctx context.Context) <-chan events.Snapshot[[]domain.Product] {
	return events.Watch(ctx, s.hub, s.ListProducts, events.TopicProducts)
}

func (s *Service) WatchCategories(ctx context.Context) <-chan events.Snapshot[[]domain.Category] {
	return events.Watch(ctx, s.hub, s.ListCategories, events.TopicCategories)
}

func (s *Service) WatchReport(ctx context.Context) <-chan events.Snapshot[domain.SalesReport] {
	return events.Watch(ctx, s.hub, s.TrailingReport, events.TopicSales)
}

func (s *Service) WatchDashboard(ctx context.Context) <-chan events.Snapshot[domain.Dashboard] {
	return events.Watch(ctx, s.hub, s.Dashboard, events.TopicSales, events.TopicProducts)
}

// FeedNames lists the feeds available through Feed.
var FeedNames = []string{"products", "categories", "report", "dashboard"}

// Feed exposes a named feed with untyped snapshots for streaming transports.
func (s *Service) Feed(ctx context.Context, name string) (<-chan events.Snapshot[any], error) {
	switch name {
	case "products":
		return events.Watch(ctx, s.hub, erase(s.ListProducts), events.TopicProducts), nil
	case "categories":
		return events.Watch(ctx, s.hub, erase(s.ListCategories), events.TopicCategories), nil
	case "report":
		return events.Watch(ctx, s.hub, erase(s.TrailingReport), events.TopicSales), nil
	case "dashboard":
		return events.Watch(ctx, s.hub, erase(s.Dashboard), events.TopicSales, events.TopicProducts), nil
	default:
		return nil, &domain.NotFoundError{Entity: "feed", Key: name}
	}
}

func erase[T any](fetch func(context.Context) (T, error)) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}
}
