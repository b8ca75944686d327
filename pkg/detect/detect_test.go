package detect

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/schemaforge/erd-engine/pkg/analyzer"
	"github.com/schemaforge/erd-engine/pkg/models"
	"github.com/schemaforge/erd-engine/pkg/patterns"
)

func col(name, dataType, mode string) *models.ColumnInfo {
	return &models.ColumnInfo{Name: name, DataType: dataType, Mode: mode}
}

func table(name string, cols ...*models.ColumnInfo) *models.TableSchema {
	return &models.TableSchema{Name: name, Columns: cols}
}

func annotated(t *testing.T, tables ...*models.TableSchema) []*models.TableSchema {
	t.Helper()
	analyzer.New(patterns.Default(), zap.NewNop()).AnnotateAll(tables)
	return tables
}

func rel(src, srcCol, tgt, tgtCol string, conf float64, method string) *models.Relationship {
	return models.NewRelationship(src, srcCol, tgt, tgtCol, models.ManyToOne, conf, method)
}

func TestForeignKeyGeneratorResolvesPluralTarget(t *testing.T) {
	tables := annotated(t,
		table("orders",
			col("id", "INTEGER", models.ModeRequired),
			col("user_id", "INTEGER", models.ModeNullable)),
		table("users",
			col("id", "INTEGER", models.ModeRequired),
			col("email", "STRING", models.ModeNullable)),
	)

	g := newForeignKeyGenerator(patterns.Default())
	rels := g.Generate(tables, Lookup(tables))

	require.Len(t, rels, 1)
	assert.Equal(t, "orders", rels[0].SourceTable)
	assert.Equal(t, "user_id", rels[0].SourceColumn)
	assert.Equal(t, "users", rels[0].TargetTable)
	assert.Equal(t, "id", rels[0].TargetColumn)
	assert.Equal(t, models.ManyToOne, rels[0].Kind)
	assert.Equal(t, 0.8, rels[0].Confidence)
}

func TestForeignKeyGeneratorNoTargetEmitsNothing(t *testing.T) {
	tables := annotated(t,
		table("orders",
			col("id", "INTEGER", models.ModeRequired),
			col("payment_id", "INTEGER", models.ModeNullable)),
	)

	g := newForeignKeyGenerator(patterns.Default())
	assert.Empty(t, g.Generate(tables, Lookup(tables)))
}

func TestEnhancedGeneratorDimensionFactScenario(t *testing.T) {
	tables := annotated(t,
		table("dim_customer",
			col("customer_id", "STRING", models.ModeRequired),
			col("name", "STRING", models.ModeNullable)),
		table("fact_sales",
			col("sale_id", "STRING", models.ModeRequired),
			col("customer_id", "STRING", models.ModeRequired)),
	)

	g := newEnhancedPKFKGenerator(patterns.Default())
	rels := g.Generate(tables, Lookup(tables))

	require.Len(t, rels, 1)
	assert.Equal(t, "fact_sales", rels[0].SourceTable)
	assert.Equal(t, "customer_id", rels[0].SourceColumn)
	assert.Equal(t, "dim_customer", rels[0].TargetTable)
	assert.Equal(t, "customer_id", rels[0].TargetColumn)
	assert.Equal(t, models.ManyToOne, rels[0].Kind)
	assert.Equal(t, 0.9, rels[0].Confidence)
}

func TestEnhancedGeneratorModeMismatchRejected(t *testing.T) {
	// NULLABLE source cannot pair with a REQUIRED key.
	tables := annotated(t,
		table("dim_customer",
			col("customer_id", "STRING", models.ModeRequired)),
		table("fact_sales",
			col("sale_id", "STRING", models.ModeRequired),
			col("customer_ref", "STRING", models.ModeNullable)),
	)
	// Force the lookup path through the full scan.
	tables[1].Columns[1].Name = "customer_id"
	tables[1].Columns[1].Mode = models.ModeNullable
	analyzerRefresh(t, tables)

	g := newEnhancedPKFKGenerator(patterns.Default())
	for _, r := range g.Generate(tables, Lookup(tables)) {
		assert.NotEqual(t, models.ModeNullable, tables[1].Column(r.SourceColumn).Mode)
	}
}

func analyzerRefresh(t *testing.T, tables []*models.TableSchema) {
	t.Helper()
	analyzer.New(patterns.Default(), zap.NewNop()).AnnotateAll(tables)
}

func TestNamingConventionGenerator(t *testing.T) {
	users := table("users",
		col("id", "INTEGER", models.ModeRequired))
	orders := table("orders",
		col("user_id", "INTEGER", models.ModeNullable))
	// Not annotated: user_id carries no FK flag, so the naming
	// generator owns it.
	tables := []*models.TableSchema{orders, users}

	g := newNamingConventionGenerator(patterns.Default())
	rels := g.Generate(tables, Lookup(tables))

	require.Len(t, rels, 1)
	assert.Equal(t, "users", rels[0].TargetTable)
	assert.Equal(t, 0.6, rels[0].Confidence)
	assert.Equal(t, models.MethodNamingConvention, rels[0].DetectionMethod)
}

func TestNamingConventionGeneratorNoTargetTable(t *testing.T) {
	orders := table("orders",
		col("user_id", "STRING", models.ModeRequired))

	g := newNamingConventionGenerator(patterns.Default())
	assert.Empty(t, g.Generate([]*models.TableSchema{orders}, Lookup([]*models.TableSchema{orders})))
}

func TestNamingConventionGeneratorSkipsFlaggedColumns(t *testing.T) {
	orders := table("orders",
		&models.ColumnInfo{Name: "user_id", DataType: "INTEGER", Mode: models.ModeNullable, IsForeignKey: true})
	users := table("users",
		col("id", "INTEGER", models.ModeRequired))
	tables := []*models.TableSchema{orders, users}

	g := newNamingConventionGenerator(patterns.Default())
	assert.Empty(t, g.Generate(tables, Lookup(tables)))
}

func TestDataTypeMatchGenerator(t *testing.T) {
	a := table("events",
		col("session_id", "STRING", models.ModeRequired))
	b := table("pageviews",
		col("session_id", "STRING", models.ModeNullable))
	c := table("metrics",
		col("value", "FLOAT64", models.ModeRequired))
	tables := []*models.TableSchema{a, b, c}

	g := newDataTypeMatchGenerator(patterns.Default())
	rels := g.Generate(tables, Lookup(tables))

	require.Len(t, rels, 1)
	assert.Equal(t, "events", rels[0].SourceTable)
	assert.Equal(t, "pageviews", rels[0].TargetTable)
	assert.Equal(t, 0.4, rels[0].Confidence)
}

func TestDataTypeMatchGeneratorBothNullableRejected(t *testing.T) {
	a := table("events", col("session_id", "STRING", models.ModeNullable))
	b := table("pageviews", col("session_id", "STRING", models.ModeNullable))
	tables := []*models.TableSchema{a, b}

	g := newDataTypeMatchGenerator(patterns.Default())
	assert.Empty(t, g.Generate(tables, Lookup(tables)))
}

func TestCustomRuleGeneratorExplicitRules(t *testing.T) {
	tables := []*models.TableSchema{
		table("invoices", col("acct", "STRING", models.ModeRequired)),
		table("accounts", col("code", "STRING", models.ModeRequired)),
	}
	rules := &models.CustomRuleSet{
		Relationships: []models.CustomRule{
			{SourceTable: "invoices", SourceColumn: "acct", TargetTable: "accounts", TargetColumn: "code", Kind: models.ManyToOne, Confidence: 0.95},
			{SourceTable: "invoices", SourceColumn: "missing", TargetTable: "accounts", TargetColumn: "code"},
			{SourceTable: "ghosts", SourceColumn: "x", TargetTable: "accounts", TargetColumn: "code"},
		},
	}

	g := newCustomRuleGenerator(patterns.Default(), rules, zap.NewNop())
	rels := g.Generate(tables, Lookup(tables))

	require.Len(t, rels, 1)
	assert.True(t, rels[0].IsCustom)
	assert.Equal(t, 0.95, rels[0].Confidence)
	assert.Equal(t, models.MethodCustomRule, rels[0].DetectionMethod)
}

func TestCustomRuleGeneratorNamingPattern(t *testing.T) {
	tables := []*models.TableSchema{
		table("invoices", col("account_ref", "STRING", models.ModeRequired)),
		table("accounts", col("id", "STRING", models.ModeRequired)),
	}
	rules := &models.CustomRuleSet{
		NamingPatterns: []models.NamingPatternRule{
			{Pattern: `^(.+)_ref$`, TargetSuffix: "s", Confidence: 0.85},
			{Pattern: `([`, TargetSuffix: "s"}, // invalid, skipped with a warning
		},
	}

	g := newCustomRuleGenerator(patterns.Default(), rules, zap.NewNop())
	rels := g.Generate(tables, Lookup(tables))

	require.Len(t, rels, 1)
	assert.Equal(t, "accounts", rels[0].TargetTable)
	assert.Equal(t, 0.85, rels[0].Confidence)
	assert.False(t, rels[0].IsCustom)
}

func TestResolveConflicts(t *testing.T) {
	low := rel("orders", "user_id", "users", "id", 0.6, models.MethodNamingConvention)
	high := rel("orders", "user_id", "users", "id", 0.8, models.MethodForeignKey)
	custom := rel("orders", "user_id", "users", "id", 0.8, models.MethodCustomRule)
	custom.IsCustom = true
	other := rel("orders", "store_id", "stores", "id", 0.8, models.MethodForeignKey)

	resolved := ResolveConflicts([]*models.Relationship{low, high, custom, other})

	require.Len(t, resolved, 2)
	assert.Same(t, custom, resolved[0], "custom rule wins the confidence tie")
	assert.Same(t, other, resolved[1])
}

func TestResolveConflictsFirstSeenOnPlainTie(t *testing.T) {
	first := rel("orders", "user_id", "users", "id", 0.8, models.MethodForeignKey)
	second := rel("orders", "user_id", "users", "id", 0.8, models.MethodEnhancedPKFK)

	resolved := ResolveConflicts([]*models.Relationship{first, second})

	require.Len(t, resolved, 1)
	assert.Same(t, first, resolved[0])
}

func TestResolveConflictsIdentityUnique(t *testing.T) {
	var candidates []*models.Relationship
	for i := 0; i < 20; i++ {
		candidates = append(candidates, rel("orders", "user_id", "users", "id", float64(i%7)/10, models.MethodForeignKey))
	}
	resolved := ResolveConflicts(candidates)

	seen := map[string]bool{}
	for _, r := range resolved {
		assert.False(t, seen[r.Key()])
		seen[r.Key()] = true
	}
}

func TestFilterCapsPerTable(t *testing.T) {
	e := NewEngine(patterns.Default(), nil, zap.NewNop())

	var candidates []*models.Relationship
	for i := 0; i < 8; i++ {
		candidates = append(candidates,
			rel("fact_sales", fmt.Sprintf("col_%d", i), fmt.Sprintf("dim_%d", i), "id", 0.9, models.MethodEnhancedPKFK))
	}
	out := e.Filter(candidates)
	assert.Len(t, out, 5)
}

func TestFilterDropsBelowFloor(t *testing.T) {
	e := NewEngine(patterns.Default(), nil, zap.NewNop())

	out := e.Filter([]*models.Relationship{
		rel("orders", "a_id", "alphas", "id", 0.1, models.MethodDataTypeMatch),
		rel("orders", "b_id", "betas", "id", 0.9, models.MethodEnhancedPKFK),
	})
	require.Len(t, out, 1)
	assert.Equal(t, "b_id", out[0].SourceColumn)
}

func TestFilterBackfillsToMinimum(t *testing.T) {
	e := NewEngine(patterns.Default(), nil, zap.NewNop())

	// One preferred candidate plus weak non-preferred ones: backfill
	// raises the kept count to two.
	out := e.Filter([]*models.Relationship{
		rel("orders", "a_id", "alphas", "id", 0.9, models.MethodEnhancedPKFK),
		rel("orders", "b_id", "betas", "id", 0.4, models.MethodDataTypeMatch),
		rel("orders", "c_id", "gammas", "id", 0.25, models.MethodDataTypeMatch),
	})
	require.Len(t, out, 2)
	assert.Equal(t, "a_id", out[0].SourceColumn)
	assert.Equal(t, "b_id", out[1].SourceColumn)
}

func TestFilterDedupesTablePairs(t *testing.T) {
	e := NewEngine(patterns.Default(), nil, zap.NewNop())

	first := rel("orders", "user_id", "users", "id", 0.9, models.MethodEnhancedPKFK)
	second := rel("orders", "owner_id", "users", "id", 0.8, models.MethodForeignKey)
	reverse := rel("users", "id", "orders", "user_id", 0.8, models.MethodForeignKey)

	out := e.Filter([]*models.Relationship{first, second, reverse})

	require.Len(t, out, 1)
	assert.Same(t, first, out[0])
}

func TestEngineEndToEndScenario(t *testing.T) {
	tables := annotated(t,
		table("dim_customer",
			col("customer_id", "STRING", models.ModeRequired),
			col("name", "STRING", models.ModeNullable)),
		table("fact_sales",
			col("sale_id", "STRING", models.ModeRequired),
			col("customer_id", "STRING", models.ModeRequired)),
	)

	e := NewEngine(patterns.Default(), nil, zap.NewNop())
	lookup := Lookup(tables)
	out := e.Filter(ResolveConflicts(e.Generate(tables, lookup)))

	var match *models.Relationship
	for _, r := range out {
		if r.SourceTable == "fact_sales" && r.SourceColumn == "customer_id" &&
			r.TargetTable == "dim_customer" && r.TargetColumn == "customer_id" {
			match = r
		}
	}
	require.NotNil(t, match)
	assert.Equal(t, models.ManyToOne, match.Kind)
	assert.GreaterOrEqual(t, match.Confidence, 0.8)
	assert.Contains(t, []string{models.MethodEnhancedPKFK, models.MethodForeignKey}, match.DetectionMethod)
}

func TestConfidenceBoundsAfterPipeline(t *testing.T) {
	tables := annotated(t,
		table("orders",
			col("id", "INTEGER", models.ModeRequired),
			col("user_id", "INTEGER", models.ModeNullable)),
		table("users",
			col("id", "INTEGER", models.ModeRequired)),
	)

	e := NewEngine(patterns.Default(), nil, zap.NewNop())
	lookup := Lookup(tables)
	for _, r := range e.Filter(ResolveConflicts(e.Generate(tables, lookup))) {
		assert.GreaterOrEqual(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 1.0)
	}
}
