package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"bodega/backend/internal/domain"
	"bodega/backend/internal/events"
)

func (s *Service) Theme(ctx context.Context) (domain.ThemeOption, error) {
	if s.settings == nil {
		return domain.ThemeSystem, nil
	}
	return s.settings.Theme(ctx)
}

func (s *Service) SetTheme(ctx context.Context, raw string) (domain.ThemeOption, error) {
	opt, ok := domain.ParseThemeOption(strings.ToUpper(strings.TrimSpace(raw)))
	if !ok {
		return domain.ThemeSystem, domain.NewValidationError("theme", fmt.Sprintf("unknown option %q", raw))
	}
	if s.settings == nil {
		return domain.ThemeSystem, ErrUnavailable
	}
	if err := s.settings.SetTheme(ctx, opt); err != nil {
		return domain.ThemeSystem, err
	}
	return opt, nil
}

func (s *Service) BackupName() string {
	if s.backups == nil {
		return ""
	}
	return s.backups.SuggestedName()
}

func (s *Service) ExportBackup(ctx context.Context, w io.Writer) error {
	if s.backups == nil {
		return ErrUnavailable
	}
	return s.backups.Export(ctx, w)
}

// RestoreBackup swaps the whole database. Every cached view is stale
// afterwards, so all topics are republished.
func (s *Service) RestoreBackup(ctx context.Context, r io.Reader) error {
	if s.backups == nil {
		return ErrUnavailable
	}
	if err := s.backups.Restore(ctx, r); err != nil {
		s.log.WithError(err).Error("backup restore failed")
		return err
	}

	s.ledgerChanged(events.AllTopics...)
	s.log.Warn("database restored from backup")
	return nil
}

func (s *Service) SnapshotBackup(ctx context.Context) (string, error) {
	if s.backups == nil {
		return "", ErrUnavailable
	}
	return s.backups.Snapshot(ctx)
}
