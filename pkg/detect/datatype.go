package detect

import (
	"strings"

	"github.com/schemaforge/erd-engine/pkg/models"
	"github.com/schemaforge/erd-engine/pkg/patterns"
)

// dataTypeMatchGenerator is the weakest signal: same-typed non-key
// column pairs across tables with relationship-like names.
type dataTypeMatchGenerator struct {
	cfg *patterns.Config
}

func newDataTypeMatchGenerator(cfg *patterns.Config) *dataTypeMatchGenerator {
	return &dataTypeMatchGenerator{cfg: cfg}
}

func (g *dataTypeMatchGenerator) Name() string { return models.MethodDataTypeMatch }

type typedColumn struct {
	table  *models.TableSchema
	column *models.ColumnInfo
}

func (g *dataTypeMatchGenerator) Generate(tables []*models.TableSchema, lookup map[string]*models.TableSchema) []*models.Relationship {
	byType := make(map[string][]typedColumn)
	var typeOrder []string
	for _, table := range tables {
		for _, col := range table.Columns {
			if col.IsPrimaryKey {
				continue
			}
			if _, ok := byType[col.DataType]; !ok {
				typeOrder = append(typeOrder, col.DataType)
			}
			byType[col.DataType] = append(byType[col.DataType], typedColumn{table, col})
		}
	}

	confidence := g.cfg.ConfidenceFor(models.MethodDataTypeMatch)
	var rels []*models.Relationship
	for _, dataType := range typeOrder {
		cols := byType[dataType]
		for i := 0; i < len(cols); i++ {
			for j := i + 1; j < len(cols); j++ {
				src, tgt := cols[i], cols[j]
				if src.table.Name == tgt.table.Name {
					continue
				}
				if !relationshipLikeNames(src.column, tgt.column) {
					continue
				}
				rels = append(rels, models.NewRelationship(
					src.table.Name, src.column.Name, tgt.table.Name, tgt.column.Name,
					matchKind(src.column, tgt.column), confidence, models.MethodDataTypeMatch))
			}
		}
	}
	return rels
}

// relationshipLikeNames requires at least one REQUIRED side and names
// that pair up: one ends in _id/_key and the other matches the same
// suffix or is exactly id/key.
func relationshipLikeNames(a, b *models.ColumnInfo) bool {
	if a.Mode == models.ModeNullable && b.Mode == models.ModeNullable {
		return false
	}
	n1, n2 := strings.ToLower(a.Name), strings.ToLower(b.Name)
	return suffixPaired(n1, n2, "_id", "id") || suffixPaired(n1, n2, "_key", "key")
}

func suffixPaired(n1, n2, suffix, bare string) bool {
	match := func(a, b string) bool {
		return strings.HasSuffix(a, suffix) && (strings.HasSuffix(b, suffix) || b == bare)
	}
	return match(n1, n2) || match(n2, n1)
}

// matchKind picks cardinality by which side carries a key.
func matchKind(src, tgt *models.ColumnInfo) models.RelationshipKind {
	if tgt.IsPrimaryKey {
		return models.ManyToOne
	}
	if src.IsPrimaryKey {
		return models.OneToMany
	}
	return models.ManyToOne
}
