package postgres

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Схема поставляется вместе с бинарником: sql/migrations/NNNN_name.{up,down}.sql.
//
//go:embed sql/migrations/*.sql
var schemaFS embed.FS

const (
	schemaDir    = "sql/migrations"
	schemaLockID = int64(0x0C0FFEE)

	schemaTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`
)

// schemaStep: одна версия схемы с обоими направлениями.
type schemaStep struct {
	version int64
	name    string
	up      string
	down    string
}

func (s schemaStep) label() string {
	return fmt.Sprintf("%04d_%s", s.version, s.name)
}

// checksum фиксирует up-скрипт на момент применения; правка применённой миграции ловится при следующем up.
func (s schemaStep) checksum() string {
	sum := sha256.Sum256([]byte(s.up))
	return hex.EncodeToString(sum[:8])
}

// MigrateUp применяет до steps неприменённых версий по возрастанию; steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withSchemaLock(ctx, func(conn *sql.Conn, plan []schemaStep) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}

		done := 0
		for _, st := range plan {
			if sum, ok := applied[st.version]; ok {
				if sum != "" && sum != st.checksum() {
					return fmt.Errorf("migration %s changed after it was applied", st.label())
				}
				continue
			}
			if steps > 0 && done == steps {
				break
			}
			err := runStep(ctx, conn, st.up,
				`INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES ($1, $2, $3, NOW())`,
				st.version, st.name, st.checksum())
			if err != nil {
				return fmt.Errorf("migrate up %s: %w", st.label(), err)
			}
			done++
		}
		return nil
	})
}

// MigrateDown откатывает steps последних версий; steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withSchemaLock(ctx, func(conn *sql.Conn, plan []schemaStep) error {
		known := make(map[int64]schemaStep, len(plan))
		for _, st := range plan {
			known[st.version] = st
		}

		versions, err := latestApplied(ctx, conn, steps)
		if err != nil {
			return err
		}
		for _, version := range versions {
			st, ok := known[version]
			if !ok {
				return fmt.Errorf("cannot roll back unknown migration version %d", version)
			}
			if err := runStep(ctx, conn, st.down, `DELETE FROM schema_migrations WHERE version = $1`, st.version); err != nil {
				return fmt.Errorf("migrate down %s: %w", st.label(), err)
			}
		}
		return nil
	})
}

// MigrationStatus возвращает старшую применённую версию и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errStoreNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("read migration status: %w", err)
	}
	return version, count, nil
}

// withSchemaLock держит advisory lock на выделенном соединении, чтобы параллельные
// экземпляры сервиса не применяли миграции одновременно.
func (s *Store) withSchemaLock(ctx context.Context, fn func(conn *sql.Conn, plan []schemaStep) error) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	plan, err := readSchema(schemaFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, schemaLockID)
	}()

	if _, err := conn.ExecContext(ctx, schemaTableDDL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return fn(conn, plan)
}

// runStep выполняет скрипт и запись в schema_migrations одной транзакцией.
func runStep(ctx context.Context, conn *sql.Conn, script, record string, args ...any) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version int64
			sum     string
		)
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = sum
	}
	return applied, rows.Err()
}

func latestApplied(ctx context.Context, conn *sql.Conn, limit int) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list latest migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan latest migration: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// readSchema собирает шаги из каталога миграций по возрастанию версии.
func readSchema(fsys fs.FS) ([]schemaStep, error) {
	entries, err := fs.ReadDir(fsys, schemaDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*schemaStep)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, direction, err := splitMigrationName(entry.Name())
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, path.Join(schemaDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}

		st, ok := byVersion[version]
		if !ok {
			st = &schemaStep{version: version, name: name}
			byVersion[version] = st
		} else if st.name != name {
			return nil, fmt.Errorf("version %d has two names: %s and %s", version, st.name, name)
		}

		target := &st.up
		if direction == "down" {
			target = &st.down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	plan := make([]schemaStep, 0, len(byVersion))
	for _, st := range byVersion {
		if st.up == "" || st.down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", st.label())
		}
		plan = append(plan, *st)
	}
	slices.SortFunc(plan, func(a, b schemaStep) int { return cmp.Compare(a.version, b.version) })
	return plan, nil
}

// splitMigrationName разбирает имя вида 0004_outbox_receipts.up.sql.
func splitMigrationName(file string) (version int64, name, direction string, err error) {
	invalid := fmt.Errorf("invalid migration file name: %s", file)

	stem, ok := strings.CutSuffix(file, ".sql")
	if !ok {
		return 0, "", "", invalid
	}
	dot := strings.LastIndexByte(stem, '.')
	if dot < 0 {
		return 0, "", "", invalid
	}
	stem, direction = stem[:dot], stem[dot+1:]
	if direction != "up" && direction != "down" {
		return 0, "", "", invalid
	}

	number, name, ok := strings.Cut(stem, "_")
	if !ok || name == "" {
		return 0, "", "", invalid
	}
	version, err = strconv.ParseInt(number, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", "", invalid
	}
	for _, r := range name {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return 0, "", "", invalid
		}
	}
	return version, name, direction, nil
}
