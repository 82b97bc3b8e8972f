package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"

	"alert-scanner/internal/infrastructure/config"
)

func TestConnect_Empty(t *testing.T) {
	db, err := Connect(context.Background(), config.DBConfig{DSN: ""})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if db != nil {
		t.Error("expected nil db for empty DSN")
	}
}

func writeMigration(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestApplyMigrations_InOrder(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "002_index.sql", "CREATE INDEX b;")
	writeMigration(t, dir, "001_alerts.sql", "CREATE TABLE a;")
	writeMigration(t, dir, "notes.txt", "ignored")

	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a;")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX b;")).WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := ApplyMigrations(context.Background(), conn, dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(applied) != 2 || applied[0] != "001_alerts.sql" || applied[1] != "002_index.sql" {
		t.Fatalf("applied = %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestApplyMigrations_StopsOnError(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_a.sql", "BROKEN;")
	writeMigration(t, dir, "002_b.sql", "CREATE TABLE b;")

	conn, mock, _ := sqlmock.New()
	defer conn.Close()
	mock.ExpectExec("BROKEN").WillReturnError(errors.New("syntax error"))

	applied, err := ApplyMigrations(context.Background(), conn, dir, zerolog.Nop())
	if err == nil || len(applied) != 0 {
		t.Fatalf("expected failure before any migration applied, got %v %v", applied, err)
	}
}

func TestApplyMigrations_EmptyDir(t *testing.T) {
	conn, _, _ := sqlmock.New()
	defer conn.Close()
	if _, err := ApplyMigrations(context.Background(), conn, t.TempDir(), zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty migrations dir")
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "..", "db", "migrations", "*.sql"))
	if err != nil || len(files) == 0 {
		t.Fatalf("expected shipped migrations, got %v %v", files, err)
	}
}
