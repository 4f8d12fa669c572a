package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bodega/backend/internal/cache"
	"bodega/backend/internal/checkout"
	"bodega/backend/internal/domain"
	"bodega/backend/internal/events"
	"bodega/backend/internal/metrics"
	"bodega/backend/internal/report"
	"bodega/backend/internal/store"
	"bodega/backend/internal/worker"
)

// ErrUnavailable is returned by operations whose backing component was not
// configured, such as backups on a postgres store.
var ErrUnavailable = errors.New("feature not available")

const defaultLowStockThreshold = 5

type ThemeStore interface {
	Theme(ctx context.Context) (domain.ThemeOption, error)
	SetTheme(ctx context.Context, opt domain.ThemeOption) error
}

type BackupManager interface {
	Export(ctx context.Context, w io.Writer) error
	Restore(ctx context.Context, r io.Reader) error
	Snapshot(ctx context.Context) (string, error)
	SuggestedName() string
}

type Dependencies struct {
	Cache          cache.ReportCache
	ReportCacheTTL time.Duration
	Hub            *events.Hub
	Pool           *worker.Pool
	Settings       ThemeStore
	Backups        BackupManager
	Metrics        *metrics.Metrics
	Logger         logrus.FieldLogger
	Checkout       checkout.Options

	// LowStockThreshold is the alert level. Nil selects 5; zero is kept.
	LowStockThreshold *int
	ExpiryWindowDays  int
	Now               func() time.Time
}

type Service struct {
	repo       store.Repository
	coord      *checkout.Coordinator
	projection *report.Projection
	hub        *events.Hub
	pool       *worker.Pool
	settings   ThemeStore
	backups    BackupManager
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
	validate   *validator.Validate

	lowStockThreshold int
	expiryWindowDays  int
	now               func() time.Time
}

func New(repo store.Repository, deps Dependencies) *Service {
	if deps.Hub == nil {
		deps.Hub = events.NewHub()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	lowStockThreshold := defaultLowStockThreshold
	if deps.LowStockThreshold != nil && *deps.LowStockThreshold >= 0 {
		lowStockThreshold = *deps.LowStockThreshold
	}
	if deps.ExpiryWindowDays < 1 {
		deps.ExpiryWindowDays = 30
	}

	s := &Service{
		repo:              repo,
		hub:               deps.Hub,
		pool:              deps.Pool,
		settings:          deps.Settings,
		backups:           deps.Backups,
		metrics:           deps.Metrics,
		log:               deps.Logger.WithField("module", "service"),
		validate:          newValidator(),
		lowStockThreshold: lowStockThreshold,
		expiryWindowDays:  deps.ExpiryWindowDays,
		now:               deps.Now,
	}

	opts := deps.Checkout
	onRetry := opts.OnRetry
	opts.OnRetry = func(attempt int, err error) {
		s.metrics.CommitRetried()
		s.log.WithField("attempt", attempt).WithError(err).Debug("sale commit lost a stock race")
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	s.coord = checkout.New(repo, opts)
	s.projection = report.NewProjection(repo, deps.Cache, deps.ReportCacheTTL,
		report.WithClock(deps.Now),
		report.WithLogger(deps.Logger),
	)
	return s
}

func (s *Service) Hub() *events.Hub {
	return s.hub
}

// ledgerChanged runs after every committed write that touches sales.
func (s *Service) ledgerChanged(topics ...events.Topic) {
	s.projection.Invalidate()
	s.hub.Publish(topics...)
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func (s *Service) check(v interface{}) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &domain.ValidationError{Field: fe.Field(), Reason: validationMessage(fe), Err: err}
	}
	return &domain.ValidationError{Reason: err.Error(), Err: err}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must have at least " + fe.Param() + " entries"
		}
		return "must be at least " + fe.Param() + " characters"
	case "gte":
		return "must not be negative"
	case "gt":
		return "must be positive"
	default:
		return "is invalid"
	}
}

func notFound(entity string, key interface{}, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &domain.NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
	}
	return err
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}
