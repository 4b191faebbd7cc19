// Command migrate applies the SQL migrations under migrations/ in
// filename order, recording applied files in schema_migrations.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/lib/pq"

	"github.com/removalhq/broker-protection-backend/internal/infrastructure/config"
)

const (
	migrationsTable = "schema_migrations"
	migrationsDir   = "migrations"
)

type migration struct {
	ID        string
	Filename  string
	AppliedAt time.Time
}

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, status")
		steps  = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	m := &migrator{db: db}
	ctx := context.Background()

	switch *action {
	case "up":
		err = m.up(ctx, *steps)
	case "down":
		err = m.down(ctx, *steps)
	case "status":
		err = m.status(ctx)
	default:
		slog.Error("unknown action", "action", *action)
		os.Exit(1)
	}

	if err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

type migrator struct {
	db *sql.DB
}

func (m *migrator) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) PRIMARY KEY,
			filename VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, migrationsTable)

	_, err := m.db.ExecContext(ctx, query)
	return err
}

func (m *migrator) applied(ctx context.Context) (map[string]migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure migrations table: %w", err)
	}

	query := fmt.Sprintf("SELECT id, filename, applied_at FROM %s ORDER BY applied_at", migrationsTable)
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]migration)
	for rows.Next() {
		var mg migration
		if err := rows.Scan(&mg.ID, &mg.Filename, &mg.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[mg.ID] = mg
	}
	return applied, rows.Err()
}

func (m *migrator) pending(ctx context.Context) ([]string, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to list migration files: %w", err)
	}
	sort.Strings(files)

	var pending []string
	for _, file := range files {
		if _, exists := applied[migrationID(file)]; !exists {
			pending = append(pending, file)
		}
	}
	return pending, nil
}

func (m *migrator) up(ctx context.Context, steps int) error {
	pending, err := m.pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		slog.Info("no pending migrations")
		return nil
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}

	for _, file := range pending {
		if err := m.apply(ctx, file); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
		slog.Info("applied migration", "file", file)
	}
	slog.Info("migrations completed", "count", len(pending))
	return nil
}

func (m *migrator) down(ctx context.Context, steps int) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		slog.Info("no migrations to rollback")
		return nil
	}

	migrations := make([]migration, 0, len(applied))
	for _, mg := range applied {
		migrations = append(migrations, mg)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].AppliedAt.After(migrations[j].AppliedAt)
	})
	if steps > 0 && steps < len(migrations) {
		migrations = migrations[:steps]
	}

	for _, mg := range migrations {
		query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", migrationsTable)
		if _, err := m.db.ExecContext(ctx, query, mg.ID); err != nil {
			return fmt.Errorf("failed to remove migration record: %w", err)
		}
		slog.Warn("migration record removed - manual schema cleanup may be required",
			"migration", mg.Filename)
	}
	slog.Info("rollback completed", "count", len(migrations))
	return nil
}

func (m *migrator) status(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	pending, err := m.pending(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Applied migrations: %d\n", len(applied))
	for _, mg := range applied {
		fmt.Printf("  %s - %s (applied at %s)\n",
			mg.ID, mg.Filename, mg.AppliedAt.Format(time.RFC3339))
	}
	fmt.Printf("\nPending migrations: %d\n", len(pending))
	for _, file := range pending {
		fmt.Printf("  %s - %s\n", migrationID(file), filepath.Base(file))
	}
	return nil
}

func (m *migrator) apply(ctx context.Context, file string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	query := fmt.Sprintf("INSERT INTO %s (id, filename) VALUES ($1, $2)", migrationsTable)
	if _, err := tx.ExecContext(ctx, query, migrationID(file), filepath.Base(file)); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

func migrationID(file string) string {
	base := filepath.Base(file)
	if len(base) > 4 && base[len(base)-4:] == ".sql" {
		return base[:len(base)-4]
	}
	return base
}
