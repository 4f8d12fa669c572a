package service

import (
	"context"
	"strings"

	"bodega/backend/internal/domain"
	"bodega/backend/internal/events"
	"bodega/backend/internal/textnorm"
)

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

// SearchCategories matches by accent-insensitive substring.
func (s *Service) SearchCategories(ctx context.Context, query string) ([]domain.Category, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return categories, nil
	}

	out := make([]domain.Category, 0, len(categories))
	for _, c := range categories {
		if textnorm.Contains(c.Name, query) {
			out = append(out, c)
		}
	}
	return out, nil
}

// CreateCategory rejects names that differ from an existing one only by case
// or accents.
func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryRequest) (domain.Category, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.check(req); err != nil {
		return domain.Category{}, err
	}
	if err := s.ensureCategoryNameFree(ctx, req.Name, 0); err != nil {
		return domain.Category{}, err
	}

	created, err := s.repo.CreateCategory(ctx, domain.Category{Name: req.Name})
	if err != nil {
		return domain.Category{}, err
	}

	s.hub.Publish(events.TopicCategories)
	return *created, nil
}

// UpdateCategory renames the category only. Products keep the old name.
func (s *Service) UpdateCategory(ctx context.Context, id int64, req domain.CategoryRequest) (domain.Category, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.check(req); err != nil {
		return domain.Category{}, err
	}
	if _, err := s.repo.GetCategory(ctx, id); err != nil {
		return domain.Category{}, notFound("category", id, err)
	}
	if err := s.ensureCategoryNameFree(ctx, req.Name, id); err != nil {
		return domain.Category{}, err
	}

	saved, err := s.repo.UpdateCategory(ctx, domain.Category{ID: id, Name: req.Name})
	if err != nil {
		return domain.Category{}, notFound("category", id, err)
	}

	s.hub.Publish(events.TopicCategories)
	return *saved, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return notFound("category", id, err)
	}
	s.hub.Publish(events.TopicCategories)
	return nil
}

func (s *Service) ensureCategoryNameFree(ctx context.Context, name string, exceptID int64) error {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return err
	}
	for _, c := range categories {
		if c.ID != exceptID && textnorm.Equal(c.Name, name) {
			return domain.NewValidationError("name", "category already exists")
		}
	}
	return nil
}
