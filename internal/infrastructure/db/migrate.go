package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
)

// ApplyMigrations 依檔名順序執行 dir 底下所有 .sql 檔，回傳已套用的檔名。
// migration 檔本身需可重複執行（CREATE ... IF NOT EXISTS）。
func ApplyMigrations(ctx context.Context, conn *sql.DB, dir string, log zerolog.Logger) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .sql migrations found in %s", dir)
	}
	sort.Strings(files)

	applied := make([]string, 0, len(files))
	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			return applied, fmt.Errorf("read %s: %w", filepath.Base(f), err)
		}
		log.Info().Str("file", filepath.Base(f)).Msg("applying migration")
		if _, err := conn.ExecContext(ctx, string(body)); err != nil {
			return applied, fmt.Errorf("apply %s: %w", filepath.Base(f), err)
		}
		applied = append(applied, filepath.Base(f))
	}
	return applied, nil
}
