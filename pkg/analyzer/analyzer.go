// Package analyzer annotates extracted table schemas with derived
// primary-key and foreign-key flags. Annotation is pure over the
// column name, type, and mode, so re-annotating an already annotated
// table produces the same flags.
package analyzer

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/schemaforge/erd-engine/pkg/models"
	"github.com/schemaforge/erd-engine/pkg/patterns"
)

// Analyzer derives key flags and complexity metrics from table schemas.
type Analyzer interface {
	// Annotate sets IsPrimaryKey/IsForeignKey on every column of the
	// table. Idempotent: flags are recomputed from scratch each call.
	Annotate(table *models.TableSchema)

	// AnnotateAll annotates every table in place.
	AnnotateAll(tables []*models.TableSchema)

	// Complexity summarizes structural metrics for one table.
	Complexity(table *models.TableSchema) ComplexityMetrics
}

// ComplexityMetrics summarizes the structure of one table.
type ComplexityMetrics struct {
	TotalColumns      int     `json:"total_columns"`
	PrimaryKeys       int     `json:"primary_keys"`
	ForeignKeys       int     `json:"foreign_keys"`
	NullableColumns   int     `json:"nullable_columns"`
	RequiredColumns   int     `json:"required_columns"`
	RepeatedColumns   int     `json:"repeated_columns"`
	DistinctDataTypes int     `json:"distinct_data_types"`
	HasDescriptions   bool    `json:"has_descriptions"`
	TableSizeMB       float64 `json:"table_size_mb"`
	RowCount          int64   `json:"row_count"`
}

type analyzer struct {
	cfg    *patterns.Config
	logger *zap.Logger
}

// New creates an analyzer driven by the given pattern configuration.
func New(cfg *patterns.Config, logger *zap.Logger) Analyzer {
	return &analyzer{
		cfg:    cfg,
		logger: logger.Named("analyzer"),
	}
}

var _ Analyzer = (*analyzer)(nil)

var primaryKeyNameRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^id$`),
	regexp.MustCompile(`(?i)^.*_id$`),
	regexp.MustCompile(`(?i)^.*_key$`),
	regexp.MustCompile(`(?i)^.*_pk$`),
	regexp.MustCompile(`(?i)^pk_.*$`),
}

var foreignKeyNameRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^.*_id$`),
	regexp.MustCompile(`(?i)^.*_fk$`),
	regexp.MustCompile(`(?i)^.*_key$`),
	regexp.MustCompile(`(?i)^fk_.*$`),
}

// keyDataTypes are the column types eligible to participate in a key.
var keyDataTypes = map[string]bool{
	"INTEGER": true,
	"INT64":   true,
	"STRING":  true,
	"BYTES":   true,
}

func (a *analyzer) Annotate(table *models.TableSchema) {
	for _, col := range table.Columns {
		col.IsPrimaryKey = a.isPrimaryKey(col, table)
		col.IsForeignKey = a.isForeignKey(col, table)
	}
	a.logger.Debug("annotated table",
		zap.String("table", table.Name),
		zap.Int("primary_keys", len(table.PrimaryKeys())),
		zap.Int("foreign_keys", len(table.ForeignKeys())))
}

func (a *analyzer) AnnotateAll(tables []*models.TableSchema) {
	for _, t := range tables {
		a.Annotate(t)
	}
}

func (a *analyzer) isPrimaryKey(col *models.ColumnInfo, table *models.TableSchema) bool {
	if matchesAny(col.Name, primaryKeyNameRes) && a.passesPrimaryKeyGates(col) {
		return true
	}
	if a.cfg.IsPrimaryKeyCandidate(col.Name, table.Name) && a.passesPrimaryKeyGates(col) {
		return true
	}
	return isWarehousePrimaryKey(col, table)
}

func (a *analyzer) isForeignKey(col *models.ColumnInfo, table *models.TableSchema) bool {
	named := matchesAny(col.Name, foreignKeyNameRes) || a.cfg.IsForeignKeyCandidate(col.Name, table.Name)
	if !named {
		return false
	}
	if col.Mode == models.ModeRepeated {
		return false
	}
	// A column acting as this table's own key is not a reference out.
	if a.isPrimaryKey(col, table) {
		return false
	}
	return keyDataTypes[strings.ToUpper(col.DataType)]
}

// passesPrimaryKeyGates filters name matches by mode and type. NULLABLE
// is tolerated only for the bare `id` column.
func (a *analyzer) passesPrimaryKeyGates(col *models.ColumnInfo) bool {
	if col.Mode == models.ModeRepeated {
		return false
	}
	if col.Mode == models.ModeNullable && strings.ToLower(col.Name) != "id" {
		return false
	}
	return keyDataTypes[strings.ToUpper(col.DataType)]
}

// isWarehousePrimaryKey applies dimensional-modeling conventions that
// bypass the naming-pattern gates: surrogate keys on dimensions,
// composite dimension keys on facts, relationship keys on bridges and
// links.
func isWarehousePrimaryKey(col *models.ColumnInfo, table *models.TableSchema) bool {
	tableName := strings.ToLower(table.Name)
	colName := strings.ToLower(col.Name)

	switch {
	case strings.HasPrefix(tableName, "dim_"):
		if colName == "id" || colName == "key" || colName == "sk" || colName == "surrogate_key" {
			return true
		}
		return strings.HasSuffix(colName, "_id") && !strings.HasSuffix(colName, "_fk")

	case strings.HasPrefix(tableName, "fact_"):
		return strings.HasSuffix(colName, "_id") && !strings.HasSuffix(colName, "_fk")

	case strings.HasPrefix(tableName, "bridge_"), strings.HasPrefix(tableName, "l_"):
		return colName == "id" || colName == "key" || colName == "relationship_id"
	}
	return false
}

func (a *analyzer) Complexity(table *models.TableSchema) ComplexityMetrics {
	m := ComplexityMetrics{
		TotalColumns: len(table.Columns),
		TableSizeMB:  float64(table.NumBytes) / (1024 * 1024),
		RowCount:     table.NumRows,
	}
	types := make(map[string]struct{})
	for _, c := range table.Columns {
		if c.IsPrimaryKey {
			m.PrimaryKeys++
		}
		if c.IsForeignKey {
			m.ForeignKeys++
		}
		switch c.Mode {
		case models.ModeNullable:
			m.NullableColumns++
		case models.ModeRequired:
			m.RequiredColumns++
		case models.ModeRepeated:
			m.RepeatedColumns++
		}
		types[c.DataType] = struct{}{}
		if c.Description != nil && *c.Description != "" {
			m.HasDescriptions = true
		}
	}
	m.DistinctDataTypes = len(types)
	return m
}

func matchesAny(name string, res []*regexp.Regexp) bool {
	for _, re := range res {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
