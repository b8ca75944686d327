// Package source loads table schemas, custom rules, and data samples
// from files or a live database.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/schemaforge/erd-engine/pkg/models"
	"github.com/schemaforge/erd-engine/pkg/validate"
)

// schemaDocument is the on-disk shape of an extracted schema set.
type schemaDocument struct {
	Tables []*models.TableSchema `json:"tables" yaml:"tables"`
}

// LoadSchema reads a schema document from a YAML or JSON file, chosen
// by extension.
func LoadSchema(path string) ([]*models.TableSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	var doc schemaDocument
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &doc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("unsupported schema file extension %q (want .json, .yaml, .yml)", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("decode schema file %s: %w", path, err)
	}

	if err := validateSchema(doc.Tables); err != nil {
		return nil, fmt.Errorf("invalid schema in %s: %w", path, err)
	}
	return doc.Tables, nil
}

func validateSchema(tables []*models.TableSchema) error {
	if len(tables) == 0 {
		return fmt.Errorf("no tables defined")
	}
	seen := make(map[string]bool, len(tables))
	for _, t := range tables {
		if t.Name == "" {
			return fmt.Errorf("table with empty name")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate table %q", t.Name)
		}
		seen[t.Name] = true

		cols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			if c.Name == "" {
				return fmt.Errorf("table %q: column with empty name", t.Name)
			}
			if cols[c.Name] {
				return fmt.Errorf("table %q: duplicate column %q", t.Name, c.Name)
			}
			cols[c.Name] = true
			if c.Mode == "" {
				c.Mode = models.ModeNullable
			}
			if !models.IsValidColumnMode(c.Mode) {
				return fmt.Errorf("table %q column %q: invalid mode %q", t.Name, c.Name, c.Mode)
			}
		}
	}
	return nil
}

// LoadRules reads a custom-rules YAML document.
func LoadRules(path string) (*models.CustomRuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var rules models.CustomRuleSet
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("decode rules file %s: %w", path, err)
	}

	for i, r := range rules.Relationships {
		if r.SourceTable == "" || r.SourceColumn == "" || r.TargetTable == "" || r.TargetColumn == "" {
			return nil, fmt.Errorf("rules file %s: relationship %d is incomplete", path, i)
		}
		if r.Kind != "" && !r.Kind.IsValid() {
			return nil, fmt.Errorf("rules file %s: relationship %d has invalid type %q", path, i, r.Kind)
		}
	}
	for i, p := range rules.NamingPatterns {
		if p.Pattern == "" {
			return nil, fmt.Errorf("rules file %s: naming pattern %d has empty pattern", path, i)
		}
	}
	return &rules, nil
}

// sampleDocument is the on-disk shape of an offline sample set, used
// for validating relationships without a live database.
type sampleDocument struct {
	Tables map[string]sampleTable `json:"tables" yaml:"tables"`
}

type sampleTable struct {
	RowCount int64               `json:"row_count" yaml:"row_count"`
	Columns  map[string][]string `json:"columns" yaml:"columns"`
}

// FileSampleSource serves column samples from a YAML or JSON document.
type FileSampleSource struct {
	doc sampleDocument
}

var _ validate.SampleSource = (*FileSampleSource)(nil)

// NewFileSampleSource loads a sample document from disk.
func NewFileSampleSource(path string) (*FileSampleSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sample file: %w", err)
	}

	var doc sampleDocument
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("decode sample file %s: %w", path, err)
	}
	return &FileSampleSource{doc: doc}, nil
}

// Samples returns up to limit values for table.column.
func (s *FileSampleSource) Samples(_ context.Context, table, column string, limit int) ([]string, error) {
	t, ok := s.doc.Tables[table]
	if !ok {
		return nil, fmt.Errorf("no samples for table %q", table)
	}
	values, ok := t.Columns[column]
	if !ok {
		return nil, fmt.Errorf("no samples for column %q.%q", table, column)
	}
	if limit > 0 && len(values) > limit {
		values = values[:limit]
	}
	return values, nil
}

// RowCount returns the declared row count, falling back to the longest
// column sample when absent.
func (s *FileSampleSource) RowCount(_ context.Context, table string) (int64, error) {
	t, ok := s.doc.Tables[table]
	if !ok {
		return 0, fmt.Errorf("no samples for table %q", table)
	}
	if t.RowCount > 0 {
		return t.RowCount, nil
	}
	var max int
	for _, values := range t.Columns {
		if len(values) > max {
			max = len(values)
		}
	}
	return int64(max), nil
}
