package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

const backupPrefix = "mailroom-"

// Dialect returns the dialector name ("sqlite" or "mysql").
func Dialect(gdb *gorm.DB) string {
	return gdb.Dialector.Name()
}

// Vacuum compacts the store.
func Vacuum(ctx context.Context, gdb *gorm.DB) error {
	var sql string
	switch Dialect(gdb) {
	case "sqlite":
		sql = "VACUUM"
	case "mysql":
		sql = "OPTIMIZE TABLE messages, agents"
	default:
		return fmt.Errorf("db: vacuum unsupported for %s", Dialect(gdb))
	}
	if err := gdb.WithContext(ctx).Exec(sql).Error; err != nil {
		return fmt.Errorf("db: vacuum: %w", err)
	}
	return nil
}

// Backup writes a consistent copy of a SQLite store into dir and returns
// the new file's path.
func Backup(ctx context.Context, gdb *gorm.DB, dir string, now time.Time) (string, error) {
	if Dialect(gdb) != "sqlite" {
		return "", fmt.Errorf("db: backup unsupported for %s, use the server's own tooling", Dialect(gdb))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("db: backup: %w", err)
	}
	path := filepath.Join(dir, backupPrefix+now.UTC().Format("20060102-150405")+".db")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("db: backup: %s already exists", path)
	}
	if err := gdb.WithContext(ctx).Exec("VACUUM INTO ?", path).Error; err != nil {
		return "", fmt.Errorf("db: backup to %s: %w", path, err)
	}
	return path, nil
}

// PruneBackups removes all but the newest keep backups in dir and returns
// the number removed.
func PruneBackups(dir string, keep int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("db: prune backups: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), ".db") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return 0, nil
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)

	removed := 0
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, fmt.Errorf("db: prune backups: %w", err)
		}
		removed++
	}
	return removed, nil
}
