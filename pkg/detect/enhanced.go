package detect

import (
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/schemaforge/erd-engine/pkg/models"
	"github.com/schemaforge/erd-engine/pkg/patterns"
)

// genericKeyNames are tried when a table has no flagged or
// pattern-matched primary key.
var genericKeyNames = []string{"id", "key", "pk", "code", "number", "identifier"}

// enhancedPKFKGenerator is the highest-trust generator. It builds a
// primary-key candidate list per table and resolves every non-FK
// column through three strategies in order: direct name match after
// suffix stripping, plural/singular/prefixed variants, and a full scan
// over all tables' key lists for a same-named compatible column.
type enhancedPKFKGenerator struct {
	cfg *patterns.Config
}

func newEnhancedPKFKGenerator(cfg *patterns.Config) *enhancedPKFKGenerator {
	return &enhancedPKFKGenerator{cfg: cfg}
}

func (g *enhancedPKFKGenerator) Name() string { return models.MethodEnhancedPKFK }

func (g *enhancedPKFKGenerator) Generate(tables []*models.TableSchema, lookup map[string]*models.TableSchema) []*models.Relationship {
	keyLists := make(map[string][]*models.ColumnInfo, len(lookup))
	var allTables []*models.TableSchema
	for _, t := range lookup {
		keyLists[t.Name] = g.primaryKeyCandidates(t)
		allTables = append(allTables, t)
	}
	sort.Slice(allTables, func(i, j int) bool { return allTables[i].Name < allTables[j].Name })

	var rels []*models.Relationship
	for _, table := range tables {
		for _, col := range table.Columns {
			if col.IsForeignKey {
				continue
			}
			target, targetCol, ok := g.resolve(table, col, lookup, keyLists, allTables)
			if !ok {
				continue
			}
			rels = append(rels, models.NewRelationship(
				table.Name, col.Name, target.Name, targetCol.Name,
				models.ManyToOne, g.cfg.ConfidenceFor(models.MethodEnhancedPKFK), models.MethodEnhancedPKFK))
		}
	}
	return rels
}

// primaryKeyCandidates lists a table's plausible key columns: explicit
// flags first, then naming heuristics, then generic key names.
func (g *enhancedPKFKGenerator) primaryKeyCandidates(table *models.TableSchema) []*models.ColumnInfo {
	if pks := table.PrimaryKeys(); len(pks) > 0 {
		return pks
	}

	var named []*models.ColumnInfo
	for _, col := range table.Columns {
		if g.cfg.IsPrimaryKeyCandidate(col.Name, table.Name) {
			named = append(named, col)
		}
	}
	if len(named) > 0 {
		return named
	}

	var generic []*models.ColumnInfo
	for _, col := range table.Columns {
		lower := strings.ToLower(col.Name)
		for _, name := range genericKeyNames {
			if lower == name {
				generic = append(generic, col)
				break
			}
		}
	}
	return generic
}

func (g *enhancedPKFKGenerator) resolve(source *models.TableSchema, col *models.ColumnInfo,
	lookup map[string]*models.TableSchema, keyLists map[string][]*models.ColumnInfo,
	allTables []*models.TableSchema) (*models.TableSchema, *models.ColumnInfo, bool) {

	base := patterns.RemoveSuffixes(strings.ToLower(col.Name), patterns.KeySuffixes())

	// Strategy 1: the base token names a table directly.
	if target, targetCol, ok := g.matchTable(source, col, base, lookup, keyLists); ok {
		return target, targetCol, true
	}

	// Strategy 2: plural/singular/prefixed variants of the base token.
	if base != strings.ToLower(col.Name) {
		variants := []string{inflection.Plural(base), inflection.Singular(base)}
		for _, prefix := range patterns.ConventionPrefixes() {
			variants = append(variants, prefix+base)
		}
		for _, v := range variants {
			if target, targetCol, ok := g.matchTable(source, col, v, lookup, keyLists); ok {
				return target, targetCol, true
			}
		}
	}

	// Strategy 3: a same-named compatible key anywhere, for columns not
	// already serving as a key of their own table.
	if !col.IsPrimaryKey {
		for _, target := range allTables {
			if target.Name == source.Name {
				continue
			}
			for _, key := range keyLists[target.Name] {
				if strings.EqualFold(key.Name, col.Name) && compatibleColumns(col, key) {
					return target, key, true
				}
			}
		}
	}
	return nil, nil, false
}

// matchTable checks one candidate table name and picks the first
// compatible key column from its key list.
func (g *enhancedPKFKGenerator) matchTable(source *models.TableSchema, col *models.ColumnInfo, name string,
	lookup map[string]*models.TableSchema, keyLists map[string][]*models.ColumnInfo) (*models.TableSchema, *models.ColumnInfo, bool) {

	target, ok := lookup[name]
	if !ok || target.Name == source.Name {
		return nil, nil, false
	}
	for _, key := range keyLists[target.Name] {
		if compatibleColumns(col, key) {
			return target, key, true
		}
	}
	return nil, nil, false
}

// compatibleColumns requires identical declared types and no mode
// mismatch: a NULLABLE column only pairs with another NULLABLE one.
func compatibleColumns(a, b *models.ColumnInfo) bool {
	if a.DataType != b.DataType {
		return false
	}
	return (a.Mode == models.ModeNullable) == (b.Mode == models.ModeNullable)
}
