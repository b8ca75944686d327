package models

import "strings"

// Column modes mirror warehouse repetition semantics.
const (
	ModeNullable = "NULLABLE"
	ModeRequired = "REQUIRED"
	ModeRepeated = "REPEATED"
)

// ValidColumnModes contains all valid column mode values.
var ValidColumnModes = []string{ModeNullable, ModeRequired, ModeRepeated}

// IsValidColumnMode checks if the given mode is valid.
func IsValidColumnMode(m string) bool {
	for _, v := range ValidColumnModes {
		if v == m {
			return true
		}
	}
	return false
}

// ColumnInfo describes a table column as extracted from the warehouse.
// IsPrimaryKey and IsForeignKey are derived flags set by the annotator;
// everything else is immutable once the column is created.
type ColumnInfo struct {
	Name         string  `json:"name" yaml:"name"`
	DataType     string  `json:"data_type" yaml:"data_type"`
	Mode         string  `json:"mode" yaml:"mode"`
	Description  *string `json:"description,omitempty" yaml:"description,omitempty"`
	IsPrimaryKey bool    `json:"is_primary_key" yaml:"is_primary_key"`
	IsForeignKey bool    `json:"is_foreign_key" yaml:"is_foreign_key"`
	MaxLength    *int64  `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Precision    *int64  `json:"precision,omitempty" yaml:"precision,omitempty"`
	Scale        *int64  `json:"scale,omitempty" yaml:"scale,omitempty"`
}

// TableSchema describes one extracted table. Column names are unique
// within a table; tables are created once per extraction and never
// deleted mid-run.
type TableSchema struct {
	Name        string            `json:"name" yaml:"name"`
	DatasetID   string            `json:"dataset_id,omitempty" yaml:"dataset_id,omitempty"`
	Description *string           `json:"description,omitempty" yaml:"description,omitempty"`
	Columns     []*ColumnInfo     `json:"columns" yaml:"columns"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	NumRows     int64             `json:"num_rows,omitempty" yaml:"num_rows,omitempty"`
	NumBytes    int64             `json:"num_bytes,omitempty" yaml:"num_bytes,omitempty"`
	TableType   string            `json:"table_type,omitempty" yaml:"table_type,omitempty"`
}

// Column returns the column with the given name, or nil.
func (t *TableSchema) Column(name string) *ColumnInfo {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// PrimaryKeys returns all columns flagged as primary keys.
func (t *TableSchema) PrimaryKeys() []*ColumnInfo {
	var pks []*ColumnInfo
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			pks = append(pks, c)
		}
	}
	return pks
}

// ForeignKeys returns all columns flagged as foreign keys.
func (t *TableSchema) ForeignKeys() []*ColumnInfo {
	var fks []*ColumnInfo
	for _, c := range t.Columns {
		if c.IsForeignKey {
			fks = append(fks, c)
		}
	}
	return fks
}

// Table classifier values derived from name prefixes. Used only to group
// candidate-generation work, never as a hard categorical constraint.
const (
	TableClassHub       = "hub"
	TableClassDimension = "dimension"
	TableClassLink      = "link"
	TableClassReference = "reference"
	TableClassFact      = "fact"
	TableClassBridge    = "bridge"
	TableClassOther     = "other"
)

// Classify returns the table class derived from the table name prefix.
func (t *TableSchema) Classify() string {
	return ClassifyTableName(t.Name)
}

// ClassifyTableName maps a table name to its class by prefix.
func ClassifyTableName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "h_"):
		return TableClassHub
	case strings.HasPrefix(lower, "dim_"):
		return TableClassDimension
	case strings.HasPrefix(lower, "l_"):
		return TableClassLink
	case strings.HasPrefix(lower, "ref_"):
		return TableClassReference
	case strings.HasPrefix(lower, "fact_"):
		return TableClassFact
	case strings.HasPrefix(lower, "bridge_"):
		return TableClassBridge
	default:
		return TableClassOther
	}
}
