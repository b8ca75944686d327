package validate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/schemaforge/erd-engine/pkg/models"
)

// fakeSource serves canned samples keyed "table.column" and counts
// fetches to verify the per-run sample cache.
type fakeSource struct {
	mu      sync.Mutex
	data    map[string][]string
	rows    map[string]int64
	fetches map[string]int
	err     error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		data:    map[string][]string{},
		rows:    map[string]int64{},
		fetches: map[string]int{},
	}
}

func (f *fakeSource) Samples(ctx context.Context, table, column string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := table + "." + column
	f.fetches[key]++
	values := f.data[key]
	if len(values) > limit {
		values = values[:limit]
	}
	return values, nil
}

func (f *fakeSource) RowCount(ctx context.Context, table string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.rows[table], nil
}

func stringTables() map[string]*models.TableSchema {
	return map[string]*models.TableSchema{
		"orders": {Name: "orders", Columns: []*models.ColumnInfo{
			{Name: "user_id", DataType: "STRING", Mode: models.ModeRequired},
		}},
		"users": {Name: "users", Columns: []*models.ColumnInfo{
			{Name: "id", DataType: "STRING", Mode: models.ModeRequired},
		}},
	}
}

func TestReferentialIntegrityBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		source  []string
		target  []string
		want    float64
		orphans int
	}{
		{"subset", []string{"a", "b"}, []string{"a", "b", "c"}, 1.0, 0},
		{"disjoint", []string{"a", "b"}, []string{"c", "d"}, 0.0, 2},
		{"partial", []string{"1", "2", "3"}, []string{"2", "3", "4"}, 2.0 / 3.0, 1},
		{"empty source", nil, []string{"a"}, 0.0, 0},
		{"duplicates collapse", []string{"a", "a", "b"}, []string{"a"}, 0.5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, orphans := ReferentialIntegrity(tt.source, tt.target)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, tt.orphans, orphans)
		})
	}
}

func TestTypeCompatibilityTiers(t *testing.T) {
	makeTables := func(srcType, tgtType string) map[string]*models.TableSchema {
		return map[string]*models.TableSchema{
			"a": {Name: "a", Columns: []*models.ColumnInfo{{Name: "x", DataType: srcType}}},
			"b": {Name: "b", Columns: []*models.ColumnInfo{{Name: "y", DataType: tgtType}}},
		}
	}
	rel := &models.Relationship{SourceTable: "a", SourceColumn: "x", TargetTable: "b", TargetColumn: "y"}

	tests := []struct {
		srcType string
		tgtType string
		want    float64
	}{
		{"STRING", "STRING", 1.0},
		{"INT64", "INTEGER", 0.8},
		{"INT64", "FLOAT64", 0.6},
		{"STRING", "TEXT", 0.8},
		{"TEXT", "CHAR", 0.6},
		{"STRING", "INT64", 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.srcType+"_"+tt.tgtType, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeCompatibility(rel, makeTables(tt.srcType, tt.tgtType)))
		})
	}
}

func TestTypeCompatibilityMissingColumn(t *testing.T) {
	rel := &models.Relationship{SourceTable: "a", SourceColumn: "missing", TargetTable: "b", TargetColumn: "y"}
	tables := map[string]*models.TableSchema{
		"a": {Name: "a", Columns: []*models.ColumnInfo{{Name: "x", DataType: "STRING"}}},
		"b": {Name: "b", Columns: []*models.ColumnInfo{{Name: "y", DataType: "STRING"}}},
	}
	assert.Equal(t, 0.0, TypeCompatibility(rel, tables))
}

func TestDistributionSimilarity(t *testing.T) {
	// Identical distributions over identical values: similarity 1,
	// coverage 1.
	same := []string{"a", "a", "b"}
	assert.InDelta(t, 1.0, DistributionSimilarity(same, same), 1e-9)

	// No common values.
	assert.Equal(t, 0.0, DistributionSimilarity([]string{"a"}, []string{"b"}))

	// Empty samples.
	assert.Equal(t, 0.0, DistributionSimilarity(nil, []string{"a"}))

	// Partial overlap: common {a}; ratios 0.5 vs 1.0 → 0.5 similarity,
	// coverage 1/2.
	got := DistributionSimilarity([]string{"a", "b"}, []string{"a"})
	assert.InDelta(t, 0.25, got, 1e-9)
}

func TestValidateBoostsPassingRelationship(t *testing.T) {
	source := newFakeSource()
	source.data["orders.user_id"] = []string{"1", "2", "3"}
	source.data["users.id"] = []string{"1", "2", "3", "4"}

	v := New(source, DefaultOptions(), zap.NewNop())
	rel := models.NewRelationship("orders", "user_id", "users", "id", models.ManyToOne, 0.8, models.MethodForeignKey)

	out := v.Validate(context.Background(), []*models.Relationship{rel}, stringTables())

	require.Len(t, out, 1)
	assert.True(t, rel.DataValidated)
	assert.InDelta(t, 1.0, rel.Confidence, 1e-9, "0.8 + 0.2 capped at 1.0")
	assert.Equal(t, "many_to_one_data_validated", rel.KindLabel())
}

func TestValidatePenalizesFailingRelationship(t *testing.T) {
	source := newFakeSource()
	source.data["orders.user_id"] = []string{"1", "2", "3"}
	source.data["users.id"] = []string{"8", "9"}

	v := New(source, DefaultOptions(), zap.NewNop())
	rel := models.NewRelationship("orders", "user_id", "users", "id", models.ManyToOne, 0.35, models.MethodDataTypeMatch)

	v.Validate(context.Background(), []*models.Relationship{rel}, stringTables())

	assert.False(t, rel.DataValidated)
	assert.InDelta(t, ConfidenceFloor, rel.Confidence, 1e-9, "0.35 - 0.3 floored at 0.1")
}

func TestValidateSourceFailureLeavesUnchanged(t *testing.T) {
	source := newFakeSource()
	source.err = errors.New("connection refused")

	v := New(source, DefaultOptions(), zap.NewNop())
	rel := models.NewRelationship("orders", "user_id", "users", "id", models.ManyToOne, 0.8, models.MethodForeignKey)

	v.Validate(context.Background(), []*models.Relationship{rel}, stringTables())

	assert.Equal(t, 0.8, rel.Confidence)
	assert.False(t, rel.DataValidated)
}

func TestSampleCacheAvoidsRepeatFetches(t *testing.T) {
	source := newFakeSource()
	source.data["orders.user_id"] = []string{"1"}
	source.data["users.id"] = []string{"1"}

	v := New(source, DefaultOptions(), zap.NewNop())
	tables := stringTables()
	relA := models.NewRelationship("orders", "user_id", "users", "id", models.ManyToOne, 0.8, models.MethodForeignKey)
	relB := models.NewRelationship("orders", "user_id", "users", "id", models.ManyToOne, 0.6, models.MethodNamingConvention)

	_, err := v.Test(context.Background(), relA, tables)
	require.NoError(t, err)
	_, err = v.Test(context.Background(), relB, tables)
	require.NoError(t, err)

	assert.Equal(t, 1, source.fetches["orders.user_id"])
	assert.Equal(t, 1, source.fetches["users.id"])
}

func TestCochranSampleSize(t *testing.T) {
	tests := []struct {
		name       string
		population int64
		confidence float64
		want       int
	}{
		{"small table uses row count", 500, 0.95, 500},
		{"large population near unadjusted n", 1_000_000, 0.95, 384},
		{"boundary at 1000 rows", 1000, 0.95, 277},
		{"higher confidence needs more", 1_000_000, 0.99, 663},
		{"unknown level falls back to 1.96", 1_000_000, 0.42, 384},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CochranSampleSize(tt.population, tt.confidence))
		})
	}
}

func TestAdaptiveSampleSize(t *testing.T) {
	source := newFakeSource()
	source.rows["orders"] = 500

	v := New(source, DefaultOptions(), zap.NewNop())
	n, err := v.AdaptiveSampleSize(context.Background(), "orders", 0.95)
	require.NoError(t, err)
	assert.Equal(t, 500, n)
}
