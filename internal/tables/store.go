// Package tables persists tabular uploads as relational tables.
package tables

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/raphaelgruber/contextbase/internal/models"
)

// posColumn keeps insertion order across dialects. It is hidden from callers.
const posColumn = "__row"

const defaultBatchSize = 1000

// maxParams stays under the bind-variable limits of sqlite and postgres.
const maxParams = 30000

// ErrTableNotFound is returned by ReadRows for unknown tables.
var ErrTableNotFound = errors.New("table not found")

// Store writes frames to a gorm-backed database.
type Store struct {
	db        *gorm.DB
	batchSize int
	logger    *slog.Logger
}

// Open connects to dsn using dialect "sqlite" or "postgres".
func Open(dialect, dsn string, batchSize int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var dialector gorm.Dialector
	switch dialect {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown tables dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(
			slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
			gormlogger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect != "postgres" {
		// sqlite allows a single writer; in-memory databases are per connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return &Store{db: db, batchSize: batchSize, logger: logger}, nil
}

// quoteIdent quotes an identifier for both sqlite and postgres. Column names
// come from user headers and may contain dots or quotes.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateOrReplaceTable drops any table called name and writes frame into a
// fresh one, inserting rows in batches. All columns are stored as text.
func (s *Store) CreateOrReplaceTable(ctx context.Context, name string, frame *models.Frame) error {
	if len(frame.Columns) == 0 {
		return fmt.Errorf("create table %q: no columns", name)
	}

	perBatch := min(s.batchSize, maxParams/(len(frame.Columns)+1))

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DROP TABLE IF EXISTS " + quoteIdent(name)).Error; err != nil {
			return fmt.Errorf("drop: %w", err)
		}

		defs := make([]string, 0, len(frame.Columns)+1)
		defs = append(defs, quoteIdent(posColumn)+" INTEGER")
		for _, c := range frame.Columns {
			defs = append(defs, quoteIdent(c)+" TEXT")
		}
		ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
		if err := tx.Exec(ddl).Error; err != nil {
			return fmt.Errorf("create: %w", err)
		}

		// Values are positional: column names may contain '?', which gorm
		// would treat as a bind variable.
		placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(defs)), ", ") + ")"
		insert := fmt.Sprintf("INSERT INTO %s VALUES ", quoteIdent(name))

		for start := 0; start < len(frame.Rows); start += perBatch {
			end := min(start+perBatch, len(frame.Rows))
			tuples := make([]string, 0, end-start)
			args := make([]any, 0, (end-start)*len(defs))
			for i, row := range frame.Rows[start:end] {
				tuples = append(tuples, placeholder)
				args = append(args, start+i)
				for j := range frame.Columns {
					args = append(args, row[j])
				}
			}
			if err := tx.Exec(insert+strings.Join(tuples, ", "), args...).Error; err != nil {
				return fmt.Errorf("insert rows %d-%d: %w", start, end, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create table %q: %w", name, err)
	}

	s.logger.Debug("table written", "table", name, "columns", len(frame.Columns), "rows", len(frame.Rows))
	return nil
}

// DropTable removes the table if it exists.
func (s *Store) DropTable(ctx context.Context, name string) error {
	if err := s.db.WithContext(ctx).Exec("DROP TABLE IF EXISTS " + quoteIdent(name)).Error; err != nil {
		return fmt.Errorf("drop table %q: %w", name, err)
	}
	return nil
}

// ReadRows returns up to limit rows in insertion order. limit <= 0 reads all.
func (s *Store) ReadRows(ctx context.Context, name string, limit int) (*models.Frame, error) {
	db := s.db.WithContext(ctx)
	if !db.Migrator().HasTable(name) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s", quoteIdent(name), quoteIdent(posColumn))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := db.Raw(query).Rows()
	if err != nil {
		return nil, fmt.Errorf("read table %q: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read table %q: %w", name, err)
	}

	frame := &models.Frame{}
	keep := make([]int, 0, len(cols))
	for i, c := range cols {
		if c == posColumn {
			continue
		}
		keep = append(keep, i)
		frame.Columns = append(frame.Columns, c)
	}

	vals := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %q: %w", name, err)
		}
		row := make([]string, len(keep))
		for j, i := range keep {
			row[j] = vals[i].String
		}
		frame.Rows = append(frame.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read table %q: %w", name, err)
	}
	return frame, nil
}
