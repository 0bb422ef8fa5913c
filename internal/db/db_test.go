package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/mailroom/internal/config"
	"github.com/zulandar/mailroom/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		host     string
		port     int
		database string
		want     string
	}{
		{
			name:     "default local",
			user:     "root",
			host:     "127.0.0.1",
			port:     3306,
			database: "mailroom",
			want:     "root@tcp(127.0.0.1:3306)/mailroom?parseTime=true&loc=UTC&charset=utf8mb4",
		},
		{
			name:     "custom host and port",
			user:     "mailer",
			host:     "10.0.0.5",
			port:     3307,
			database: "team_mail",
			want:     "mailer@tcp(10.0.0.5:3307)/team_mail?parseTime=true&loc=UTC&charset=utf8mb4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.user, tt.host, tt.port, tt.database)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn := SQLiteDSN("/tmp/mail.db", 5*time.Second)
	for _, want := range []string{"file:/tmp/mail.db", "_busy_timeout=5000", "_journal_mode=WAL"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("SQLiteDSN = %q, missing %q", dsn, want)
		}
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestOpen_SQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mail.db")
	gdb, err := Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: path, BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(gdb)

	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
	if Dialect(gdb) != "sqlite" {
		t.Errorf("Dialect = %q, want sqlite", Dialect(gdb))
	}
}

func TestAutoMigrate_CreatesTables(t *testing.T) {
	gdb, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, table := range []string{"messages", "agents"} {
		if !gdb.Migrator().HasTable(table) {
			t.Errorf("table %s missing", table)
		}
	}
	if !gdb.Migrator().HasColumn(&models.Message{}, "thread_id") {
		t.Error("messages.thread_id missing")
	}
}

func TestLocation(t *testing.T) {
	if got := Location(config.DatabaseConfig{Driver: config.DriverSQLite, Path: "/x/mail.db"}); got != "/x/mail.db" {
		t.Errorf("Location(sqlite) = %q", got)
	}
	got := Location(config.DatabaseConfig{Driver: config.DriverMySQL, User: "root", Host: "h", Port: 3306, Name: "m"})
	if got != "mysql://root@h:3306/m" {
		t.Errorf("Location(mysql) = %q", got)
	}
}

func TestBackupAndVacuum(t *testing.T) {
	dir := t.TempDir()
	gdb, err := Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(dir, "mail.db"), BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(gdb)
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	ctx := context.Background()
	if err := Vacuum(ctx, gdb); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}

	now := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	path, err := Backup(ctx, gdb, filepath.Join(dir, "backups"), now)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if filepath.Base(path) != "mailroom-20260504-030201.db" {
		t.Errorf("backup name = %q", filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("backup file missing: %v", err)
	}

	if _, err := Backup(ctx, gdb, filepath.Join(dir, "backups"), now); err == nil {
		t.Error("expected error when backup file already exists")
	}
}

func TestPruneBackups(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"mailroom-20260101-000000.db",
		"mailroom-20260102-000000.db",
		"mailroom-20260103-000000.db",
		"unrelated.txt",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := PruneBackups(dir, 1)
	if err != nil {
		t.Fatalf("PruneBackups: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "mailroom-20260103-000000.db")); err != nil {
		t.Error("newest backup should be kept")
	}
	if _, err := os.Stat(filepath.Join(dir, "unrelated.txt")); err != nil {
		t.Error("unrelated file should be kept")
	}
}

func TestPruneBackups_MissingDir(t *testing.T) {
	removed, err := PruneBackups(filepath.Join(t.TempDir(), "nope"), 3)
	if err != nil || removed != 0 {
		t.Errorf("PruneBackups = %d, %v; want 0, nil", removed, err)
	}
}
