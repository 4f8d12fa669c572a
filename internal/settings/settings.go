// Package settings persists user preferences in a small bbolt file, apart
// from the transactional database so a restore never touches them.
package settings

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"bodega/backend/internal/domain"
)

var (
	bucketName = []byte("settings")
	themeKey   = []byte("theme_option")
)

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open settings %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init settings bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Theme returns SYSTEM when nothing is stored or the stored value is not a
// known option.
func (s *Store) Theme(ctx context.Context) (domain.ThemeOption, error) {
	if err := ctx.Err(); err != nil {
		return domain.ThemeSystem, err
	}

	var raw string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketName).Get(themeKey); v != nil {
			raw = string(v)
		}
		return nil
	})
	if err != nil {
		return domain.ThemeSystem, fmt.Errorf("read theme: %w", err)
	}
	opt, _ := domain.ParseThemeOption(raw)
	return opt, nil
}

func (s *Store) SetTheme(ctx context.Context, opt domain.ThemeOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := domain.ParseThemeOption(string(opt)); !ok {
		return domain.NewValidationError("theme", fmt.Sprintf("unknown option %q", opt))
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(themeKey, []byte(opt))
	})
	if err != nil {
		return fmt.Errorf("write theme: %w", err)
	}
	return nil
}
