// Package backup copies the database file out and back in while the live
// handle is closed.
package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"bodega/backend/internal/domain"
)

const (
	filePrefix = "bodega_backup_"
	fileSuffix = ".db"
	nameLayout = "2006-01-02_15-04"
)

var sqliteMagic = []byte("SQLite format 3\x00")

// Database is the slice of the store lifecycle a backup needs.
type Database interface {
	Path() string
	WithClosed(ctx context.Context, fn func(path string) error) error
}

type Manager struct {
	db     Database
	dir    string
	retain int
	now    func() time.Time
	log    logrus.FieldLogger
}

type Options struct {
	Dir    string
	Retain int
	Now    func() time.Time
	Logger logrus.FieldLogger
}

func NewManager(db Database, opts Options) *Manager {
	if opts.Dir == "" {
		opts.Dir = "backups"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Manager{
		db:     db,
		dir:    opts.Dir,
		retain: opts.Retain,
		now:    opts.Now,
		log:    opts.Logger.WithField("module", "backup"),
	}
}

// SuggestedName is the download file name for a backup taken at t.
func SuggestedName(t time.Time) string {
	return filePrefix + t.Format(nameLayout) + fileSuffix
}

func (m *Manager) SuggestedName() string {
	return SuggestedName(m.now())
}

// Export writes a byte-level copy of the database to w. Closing the handle
// first folds the WAL into the main file. The store is only closed while the
// file is copied to a local spool, never while w drains.
func (m *Manager) Export(ctx context.Context, w io.Writer) error {
	spool, cleanup, err := m.newSpool("export")
	if err != nil {
		return err
	}
	defer cleanup()

	err = m.withClosed(ctx, "export", func(path string) error {
		src, err := os.Open(path)
		if err != nil {
			return &domain.BackupIOError{Op: "export", Path: path, Err: err}
		}
		defer func() { _ = src.Close() }()

		if _, err := io.Copy(spool, src); err != nil {
			return &domain.BackupIOError{Op: "export", Path: spool.Name(), Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return &domain.BackupIOError{Op: "export", Path: spool.Name(), Err: err}
	}
	if _, err := io.Copy(w, spool); err != nil {
		return &domain.BackupIOError{Op: "export", Err: err}
	}
	return nil
}

func (m *Manager) ExportToFile(ctx context.Context, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &domain.BackupIOError{Op: "export", Path: dest, Err: err}
	}
	out, err := os.Create(dest)
	if err != nil {
		return &domain.BackupIOError{Op: "export", Path: dest, Err: err}
	}

	if err := m.Export(ctx, out); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		return &domain.BackupIOError{Op: "export", Path: dest, Err: err}
	}
	return nil
}

// Restore replaces the database file with the contents of r. The upload is
// spooled and checked first, so a short or foreign upload never touches the
// live file. There is no rollback once the copy into place has started.
func (m *Manager) Restore(ctx context.Context, r io.Reader) error {
	spool, cleanup, err := m.newSpool("restore")
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := io.Copy(spool, r); err != nil {
		return &domain.BackupIOError{Op: "restore", Path: spool.Name(), Err: err}
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return &domain.BackupIOError{Op: "restore", Path: spool.Name(), Err: err}
	}
	head := make([]byte, len(sqliteMagic))
	if _, err := io.ReadFull(spool, head); err != nil || !bytes.Equal(head, sqliteMagic) {
		return domain.NewValidationError("backup", "not a database file")
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return &domain.BackupIOError{Op: "restore", Path: spool.Name(), Err: err}
	}

	return m.withClosed(ctx, "restore", func(path string) error {
		for _, side := range []string{path + "-wal", path + "-shm"} {
			if err := os.Remove(side); err != nil && !errors.Is(err, os.ErrNotExist) {
				return &domain.BackupIOError{Op: "restore", Path: side, Err: err}
			}
		}

		dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return &domain.BackupIOError{Op: "restore", Path: path, Err: err}
		}
		if _, err := io.Copy(dst, spool); err != nil {
			_ = dst.Close()
			return &domain.BackupIOError{Op: "restore", Path: path, Err: err}
		}
		if err := dst.Close(); err != nil {
			return &domain.BackupIOError{Op: "restore", Path: path, Err: err}
		}
		return nil
	})
}

// newSpool creates a scratch file in the backup directory. List ignores it
// and cleanup removes it.
func (m *Manager) newSpool(op string) (*os.File, func(), error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, nil, &domain.BackupIOError{Op: op, Path: m.dir, Err: err}
	}
	f, err := os.CreateTemp(m.dir, ".spool-*.tmp")
	if err != nil {
		return nil, nil, &domain.BackupIOError{Op: op, Path: m.dir, Err: err}
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}
	return f, cleanup, nil
}

// Snapshot writes a timestamped copy into the backup directory and prunes
// old copies beyond the retention count.
func (m *Manager) Snapshot(ctx context.Context) (string, error) {
	dest := filepath.Join(m.dir, SuggestedName(m.now().UTC()))
	if err := m.ExportToFile(ctx, dest); err != nil {
		return "", err
	}
	m.log.WithField("file", dest).Info("backup snapshot written")

	if _, err := m.Prune(); err != nil {
		m.log.WithError(err).Warn("backup prune failed")
	}
	return dest, nil
}

// Prune removes the oldest snapshots so at most retain remain. A retain of
// zero or less keeps everything.
func (m *Manager) Prune() ([]string, error) {
	if m.retain <= 0 {
		return nil, nil
	}
	snapshots, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(snapshots) <= m.retain {
		return nil, nil
	}

	var removed []string
	for _, name := range snapshots[:len(snapshots)-m.retain] {
		path := filepath.Join(m.dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, &domain.BackupIOError{Op: "prune", Path: path, Err: err}
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// List returns snapshot file names oldest first. The timestamp layout sorts
// lexically.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.BackupIOError{Op: "list", Path: m.dir, Err: err}
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Manager) withClosed(ctx context.Context, op string, fn func(path string) error) error {
	if m.db.Path() == "" {
		return &domain.BackupIOError{Op: op, Err: errors.ErrUnsupported}
	}
	// The handle must come back even if the caller gives up halfway.
	err := m.db.WithClosed(context.WithoutCancel(ctx), fn)
	if err == nil {
		return nil
	}
	var ioErr *domain.BackupIOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &domain.BackupIOError{Op: op, Path: m.db.Path(), Err: err}
}
