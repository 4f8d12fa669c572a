package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bodega/backend/internal/domain"
	"bodega/backend/internal/events"
	"bodega/backend/internal/store"
	"bodega/backend/internal/textnorm"
)

// AllCategories is the catalogue filter value meaning no category filter.
const AllCategories = "Todas"

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, notFound("product", id, err)
	}
	return *product, nil
}

// LookupBarcode reports found=false for an unknown code rather than failing.
func (s *Service) LookupBarcode(ctx context.Context, barcode string) (domain.Product, bool, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, false, nil
	}
	product, err := s.repo.GetProductByBarcode(ctx, barcode)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, false, nil
	}
	if err != nil {
		return domain.Product{}, false, err
	}
	return *product, true, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Barcode = strings.TrimSpace(req.Barcode)
	req.ImageRef = strings.TrimSpace(req.ImageRef)
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}

	purchased := s.timestamp()
	if req.PurchaseDate != nil {
		purchased = req.PurchaseDate.UTC().Truncate(time.Millisecond)
	}

	product := domain.Product{
		Name:          req.Name,
		Category:      req.Category,
		PurchasePrice: req.PurchasePrice,
		SalePrice:     req.SalePrice,
		Stock:         req.Stock,
		PurchaseDate:  purchased,
		ExpiryDate:    truncateDate(req.ExpiryDate),
		ImageRef:      req.ImageRef,
		Barcode:       req.Barcode,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, translateProductWrite(err)
	}

	s.hub.Publish(events.TopicProducts)
	s.log.WithField("product_id", created.ID).Info("product created")
	return *created, nil
}

// UpdateProduct applies the non-nil fields of req. The purchase date is set
// once at creation and never changes.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, notFound("product", id, err)
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, domain.NewValidationError("name", "is required")
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.PurchasePrice != nil {
		updated.PurchasePrice = *req.PurchasePrice
	}
	if req.SalePrice != nil {
		updated.SalePrice = *req.SalePrice
	}
	if req.Stock != nil {
		updated.Stock = *req.Stock
	}
	if req.ClearExpiry {
		updated.ExpiryDate = nil
	} else if req.ExpiryDate != nil {
		updated.ExpiryDate = truncateDate(req.ExpiryDate)
	}
	if req.ImageRef != nil {
		updated.ImageRef = strings.TrimSpace(*req.ImageRef)
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, notFound("product", id, translateProductWrite(err))
	}

	s.hub.Publish(events.TopicProducts)
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, store.ErrProductReferenced) {
			return fmt.Errorf("delete product %d: %w", id, err)
		}
		return notFound("product", id, err)
	}

	s.hub.Publish(events.TopicProducts)
	s.log.WithField("product_id", id).Info("product deleted")
	return nil
}

// SearchInventory matches name and category by accent-insensitive prefix.
// An empty term matches everything.
func (s *Service) SearchInventory(ctx context.Context, name string, category string) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if textnorm.HasPrefix(p.Name, name) && textnorm.HasPrefix(p.Category, category) {
			out = append(out, p)
		}
	}
	return out, nil
}

// FilterCatalog is the POS catalogue filter: case-insensitive substring on
// the name and an exact category unless it is empty or AllCategories.
func (s *Service) FilterCatalog(ctx context.Context, text string, category string) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(text))
	category = strings.TrimSpace(category)
	anyCategory := category == "" || category == AllCategories

	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if !strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		if !anyCategory && p.Category != category {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// LowStock lists products at or below threshold. A negative threshold uses
// the configured default.
func (s *Service) LowStock(ctx context.Context, threshold int) ([]domain.Product, error) {
	if threshold < 0 {
		threshold = s.lowStockThreshold
	}
	return s.repo.ListLowStock(ctx, threshold)
}

// Expiring lists products whose expiry falls between now and days from now.
func (s *Service) Expiring(ctx context.Context, days int) ([]domain.Product, error) {
	if days < 1 {
		days = s.expiryWindowDays
	}
	now := s.timestamp()
	return s.repo.ListExpiring(ctx, now, now.AddDate(0, 0, days))
}

func translateProductWrite(err error) error {
	if errors.Is(err, store.ErrDuplicateBarcode) {
		return &domain.ValidationError{Field: "barcode", Reason: "is already registered", Err: err}
	}
	return err
}

func truncateDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Millisecond)
	return &v
}
