// Package report derives the trailing daily sales and margin series from the
// sale ledger.
package report

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bodega/backend/internal/cache"
	"bodega/backend/internal/domain"
)

const DefaultWindowDays = 30

type Source interface {
	DailySales(ctx context.Context, from time.Time, to time.Time) ([]domain.DailyPoint, error)
	DailyMargin(ctx context.Context, from time.Time, to time.Time) ([]domain.DailyPoint, error)
}

type Projection struct {
	src        Source
	cache      cache.ReportCache
	ttl        time.Duration
	windowDays int
	epoch      string
	generation atomic.Uint64
	now        func() time.Time
	log        logrus.FieldLogger
}

type Option func(*Projection)

func WithClock(now func() time.Time) Option {
	return func(p *Projection) { p.now = now }
}

func WithWindowDays(days int) Option {
	return func(p *Projection) {
		if days > 0 {
			p.windowDays = days
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Projection) { p.log = log }
}

func NewProjection(src Source, reportCache cache.ReportCache, ttl time.Duration, opts ...Option) *Projection {
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	p := &Projection{
		src:        src,
		cache:      reportCache,
		ttl:        ttl,
		windowDays: DefaultWindowDays,
		epoch:      newEpoch(),
		now:        time.Now,
		log:        logrus.StandardLogger(),
	}
	for _, apply := range opts {
		apply(p)
	}
	p.log = p.log.WithField("module", "report")
	return p
}

// newEpoch keeps a restarted process from reading entries cached by an
// earlier one whose generation counter happened to match.
func newEpoch() string {
	return uuid.NewString()
}

// Invalidate must be called after every committed ledger write.
func (p *Projection) Invalidate() {
	p.generation.Add(1)
}

func (p *Projection) Generation() uint64 {
	return p.generation.Load()
}

// Window covers windowDays UTC calendar days ending with today. The upper
// bound is exclusive.
func (p *Projection) Window() (time.Time, time.Time) {
	_, end := domain.DayBounds(p.now())
	return end.AddDate(0, 0, -p.windowDays), end
}

func (p *Projection) cacheKey(day time.Time) string {
	return fmt.Sprintf("bodega:report:%s:%d:%s", p.epoch, p.generation.Load(), day.Format(domain.DayLayout))
}

func (p *Projection) Trailing(ctx context.Context) (domain.SalesReport, error) {
	from, to := p.Window()
	key := p.cacheKey(from)

	if cached, ok, err := p.cache.Get(ctx, key); err != nil {
		p.log.WithError(err).Warn("report cache read failed")
	} else if ok {
		return *cached, nil
	}

	report, err := p.compute(ctx, from, to)
	if err != nil {
		return domain.SalesReport{}, err
	}

	if err := p.cache.Set(ctx, key, &report, p.ttl); err != nil {
		p.log.WithError(err).Warn("report cache write failed")
	}
	return report, nil
}

func (p *Projection) compute(ctx context.Context, from time.Time, to time.Time) (domain.SalesReport, error) {
	sales, err := p.src.DailySales(ctx, from, to)
	if err != nil {
		return domain.SalesReport{}, fmt.Errorf("daily sales: %w", err)
	}
	margin, err := p.src.DailyMargin(ctx, from, to)
	if err != nil {
		return domain.SalesReport{}, fmt.Errorf("daily margin: %w", err)
	}

	return domain.SalesReport{
		From:        from,
		To:          to,
		Sales:       sales,
		Margin:      margin,
		TotalSales:  sumPoints(sales),
		TotalMargin: sumPoints(margin),
	}, nil
}

func sumPoints(points []domain.DailyPoint) decimal.Decimal {
	total := decimal.Zero
	for _, point := range points {
		total = total.Add(point.Amount)
	}
	return total
}
