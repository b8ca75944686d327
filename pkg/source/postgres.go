package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/schemaforge/erd-engine/pkg/models"
	"github.com/schemaforge/erd-engine/pkg/validate"
)

// PostgresSource extracts table schemas and column samples from a live
// PostgreSQL database. It implements validate.SampleSource.
type PostgresSource struct {
	pool   *pgxpool.Pool
	schema string
	logger *zap.Logger
}

var _ validate.SampleSource = (*PostgresSource)(nil)

// NewPostgresSource connects to the database and pings it. An empty
// schema defaults to public.
func NewPostgresSource(ctx context.Context, connString, schema string, logger *zap.Logger) (*PostgresSource, error) {
	if schema == "" {
		schema = "public"
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresSource{
		pool:   pool,
		schema: schema,
		logger: logger.Named("postgres"),
	}, nil
}

// Close releases the connection pool.
func (s *PostgresSource) Close() {
	s.pool.Close()
}

// qualifiedTableName returns a properly quoted schema.table reference.
func (s *PostgresSource) qualifiedTableName(table string) string {
	return pgx.Identifier{s.schema}.Sanitize() + "." + pgx.Identifier{table}.Sanitize()
}

// Tables extracts every base table in the configured schema with its
// columns, ready for annotation.
func (s *PostgresSource) Tables(ctx context.Context) ([]*models.TableSchema, error) {
	const query = `
		SELECT
			t.table_name,
			COALESCE(c.reltuples::bigint, 0) as row_count
		FROM information_schema.tables t
		LEFT JOIN pg_class c ON c.relname = t.table_name
		LEFT JOIN pg_namespace n ON n.oid = c.relnamespace AND n.nspname = t.table_schema
		WHERE t.table_type = 'BASE TABLE'
		  AND t.table_schema = $1
		ORDER BY t.table_name
	`

	rows, err := s.pool.Query(ctx, query, s.schema)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []*models.TableSchema
	for rows.Next() {
		table := &models.TableSchema{DatasetID: s.schema}
		if err := rows.Scan(&table.Name, &table.NumRows); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	for _, table := range tables {
		if table.Columns, err = s.columns(ctx, table.Name); err != nil {
			return nil, err
		}
	}

	s.logger.Info("extracted schema",
		zap.String("schema", s.schema),
		zap.Int("tables", len(tables)))
	return tables, nil
}

func (s *PostgresSource) columns(ctx context.Context, table string) ([]*models.ColumnInfo, error) {
	const query = `
		SELECT
			column_name,
			data_type,
			is_nullable,
			character_maximum_length,
			numeric_precision,
			numeric_scale
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	rows, err := s.pool.Query(ctx, query, s.schema, table)
	if err != nil {
		return nil, fmt.Errorf("query columns for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []*models.ColumnInfo
	for rows.Next() {
		var (
			col      models.ColumnInfo
			dataType string
			nullable string
		)
		if err := rows.Scan(&col.Name, &dataType, &nullable, &col.MaxLength, &col.Precision, &col.Scale); err != nil {
			return nil, fmt.Errorf("scan column for %s: %w", table, err)
		}
		col.DataType = canonicalType(dataType)
		if nullable == "YES" {
			col.Mode = models.ModeNullable
		} else {
			col.Mode = models.ModeRequired
		}
		if strings.HasSuffix(dataType, "[]") || dataType == "ARRAY" {
			col.Mode = models.ModeRepeated
		}
		cols = append(cols, &col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns for %s: %w", table, err)
	}
	return cols, nil
}

// canonicalType maps PostgreSQL type names onto the warehouse type
// vocabulary the rest of the engine reasons about.
func canonicalType(pgType string) string {
	switch strings.ToLower(strings.TrimSuffix(pgType, "[]")) {
	case "smallint", "integer", "bigint", "smallserial", "serial", "bigserial":
		return "INTEGER"
	case "text", "character varying", "character", "varchar", "char", "uuid":
		return "STRING"
	case "bytea":
		return "BYTES"
	case "real", "double precision", "numeric", "decimal", "money":
		return "FLOAT64"
	case "boolean":
		return "BOOLEAN"
	case "date":
		return "DATE"
	case "timestamp without time zone", "timestamp with time zone", "timestamp":
		return "TIMESTAMP"
	case "time without time zone", "time with time zone", "time":
		return "TIME"
	case "json", "jsonb":
		return "JSON"
	default:
		return strings.ToUpper(pgType)
	}
}

// Samples returns up to limit non-null values from table.column,
// rendered as text.
func (s *PostgresSource) Samples(ctx context.Context, table, column string, limit int) ([]string, error) {
	query := fmt.Sprintf(
		"SELECT %s::text FROM %s WHERE %s IS NOT NULL LIMIT %d",
		pgx.Identifier{column}.Sanitize(),
		s.qualifiedTableName(table),
		pgx.Identifier{column}.Sanitize(),
		limit,
	)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sample %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan sample from %s.%s: %w", table, column, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples from %s.%s: %w", table, column, err)
	}
	return values, nil
}

// RowCount returns the planner's row estimate, falling back to a full
// count when no estimate is available.
func (s *PostgresSource) RowCount(ctx context.Context, table string) (int64, error) {
	const query = `
		SELECT COALESCE(c.reltuples::bigint, -1)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
	`

	var estimate int64
	err := s.pool.QueryRow(ctx, query, s.schema, table).Scan(&estimate)
	if err == nil && estimate > 0 {
		return estimate, nil
	}
	if err != nil && err != pgx.ErrNoRows {
		return 0, fmt.Errorf("estimate rows for %s: %w", table, err)
	}

	var count int64
	countQuery := "SELECT COUNT(*) FROM " + s.qualifiedTableName(table)
	if err := s.pool.QueryRow(ctx, countQuery).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows for %s: %w", table, err)
	}
	return count, nil
}
