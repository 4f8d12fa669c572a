package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"bodega/backend/internal/domain"
	"bodega/backend/internal/store"
)

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}

	var rows []categoryRow
	if err := db.SelectContext(ctx, &rows, `SELECT id, name FROM categories ORDER BY name, id`); err != nil {
		return nil, err
	}
	categories := make([]domain.Category, 0, len(rows))
	for _, row := range rows {
		categories = append(categories, domain.Category{ID: row.ID, Name: row.Name})
	}
	return categories, nil
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}

	var row categoryRow
	err = db.GetContext(ctx, &row, db.Rebind(`SELECT id, name FROM categories WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.Category{ID: row.ID, Name: row.Name}, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.Name == "" {
		return nil, store.ErrInvalid
	}

	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}

	if err := db.QueryRowxContext(ctx, db.Rebind(`INSERT INTO categories (name) VALUES (?) RETURNING id`), category.Name).Scan(&category.ID); err != nil {
		return nil, err
	}
	return &category, nil
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.ID == 0 || category.Name == "" {
		return nil, store.ErrInvalid
	}

	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return nil, err
	}

	res, err := db.ExecContext(ctx, db.Rebind(`UPDATE categories SET name = ? WHERE id = ?`), category.Name, category.ID)
	if err != nil {
		return nil, err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, store.ErrNotFound
	}
	return &category, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	db, release, err := s.acquire()
	defer release()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM categories WHERE id = ?`), id)
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
