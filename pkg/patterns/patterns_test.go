package patterns

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())
	assert.Equal(t, 5, cfg.FilteringRules.MaxPerTable)
	assert.Equal(t, 0.2, cfg.FilteringRules.MinConfidence)
	assert.Equal(t, 2, cfg.FilteringRules.BackfillMinimum)
}

func TestPatternsForTable(t *testing.T) {
	cfg := Default()

	tests := []struct {
		table string
		names []string
	}{
		{"h_customer", []string{"hub"}},
		{"l_adam_misgeret", []string{"link"}},
		{"ref_code_status", []string{"reference"}},
		{"users", nil},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			matches := cfg.PatternsForTable(tt.table)
			var names []string
			for _, m := range matches {
				names = append(names, m.Name)
			}
			assert.ElementsMatch(t, tt.names, names)
		})
	}

	// dim_ prefix matches both methodologies.
	dims := cfg.PatternsForTable("dim_customer")
	assert.Len(t, dims, 2)
}

func TestIsPrimaryKeyCandidate(t *testing.T) {
	cfg := Default()

	tests := []struct {
		column string
		table  string
		want   bool
	}{
		{"id", "h_adam", true},
		{"hash_key", "h_adam", true},
		{"adam_hk", "l_adam_misgeret", true},
		{"customer_pk", "fact_sales", true},
		{"email", "users", false},
		{"created_at", "dim_customer", false},
	}
	for _, tt := range tests {
		t.Run(tt.table+"."+tt.column, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.IsPrimaryKeyCandidate(tt.column, tt.table))
		})
	}
}

func TestIsForeignKeyCandidate(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.IsForeignKeyCandidate("customer_id", "fact_sales"))
	assert.True(t, cfg.IsForeignKeyCandidate("adam_hk", "l_adam_misgeret"))
	assert.False(t, cfg.IsForeignKeyCandidate("id", "fact_sales"))
	assert.False(t, cfg.IsForeignKeyCandidate("amount", "fact_sales"))
}

func TestFindTargetTable(t *testing.T) {
	cfg := Default()
	available := []string{"h_adam", "h_ishuv", "dim_ishuv", "l_adam_misgeret", "users", "Orders"}

	tests := []struct {
		column string
		want   string
		found  bool
	}{
		{"adam_hk", "h_adam", true},      // hub hash-key convention
		{"ishuv_id", "h_ishuv", true},    // suffix strip + prefix
		{"user_id", "users", true},       // suffix strip + pluralize
		{"order_id", "Orders", true},     // case-insensitive, original case kept
		{"payment_id", "", false},        // no matching table
		{"hash_key", "", false},          // no base entity to resolve
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			got, ok := cfg.FindTargetTable(tt.column, available)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchesPattern(t *testing.T) {
	assert.True(t, matchesPattern("customer_id", "*_id"))
	assert.True(t, matchesPattern("ID", "id"))
	assert.False(t, matchesPattern("id", "*_id"))
	assert.True(t, matchesPattern("adam_hash_key", "*_hash_key"))
	assert.False(t, matchesPattern("identifier", "id"))
}

func TestRemoveSuffixes(t *testing.T) {
	assert.Equal(t, "customer", RemoveSuffixes("customer_id", []string{"_id", "_key"}))
	assert.Equal(t, "customer", RemoveSuffixes("customer_key", []string{"_id", "_key"}))
	assert.Equal(t, "customer", RemoveSuffixes("customer", []string{"_id"}))
}

func TestConfidenceFor(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 0.8, cfg.ConfidenceFor("foreign_key"))
	assert.Equal(t, 0.9, cfg.ConfidenceFor("enhanced_pk_fk"))
	assert.Equal(t, 0.5, cfg.ConfidenceFor("unknown_method"))
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	doc := `filtering_rules:
  max_relationships_per_table: 3
  min_confidence_threshold: 0.4
  preferred_detection_methods: ["foreign_key"]
  preferred_confidence_threshold: 0.5
  backfill_confidence_threshold: 0.3
  backfill_minimum: 1
confidence_scoring:
  foreign_key: 0.75
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.FilteringRules.MaxPerTable)
	assert.Equal(t, 0.75, cfg.ConfidenceFor("foreign_key"))
	// Untouched sections keep defaults.
	assert.NotEmpty(t, cfg.DetectionStrategies)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	doc := `filtering_rules:
  max_relationships_per_table: 0
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
