package detect

import (
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/schemaforge/erd-engine/pkg/models"
	"github.com/schemaforge/erd-engine/pkg/patterns"
)

// foreignKeyGenerator resolves columns the annotator flagged as foreign
// keys to their target table by name: the stripped base token, its
// plural, and the base token behind each known table-name prefix.
type foreignKeyGenerator struct {
	cfg *patterns.Config
}

func newForeignKeyGenerator(cfg *patterns.Config) *foreignKeyGenerator {
	return &foreignKeyGenerator{cfg: cfg}
}

func (g *foreignKeyGenerator) Name() string { return models.MethodForeignKey }

func (g *foreignKeyGenerator) Generate(tables []*models.TableSchema, lookup map[string]*models.TableSchema) []*models.Relationship {
	var rels []*models.Relationship
	for _, table := range tables {
		for _, col := range table.Columns {
			if !col.IsForeignKey {
				continue
			}
			target, targetCol, ok := g.resolveTarget(table, col, lookup)
			if !ok {
				continue
			}
			rels = append(rels, models.NewRelationship(
				table.Name, col.Name, target.Name, targetCol.Name,
				models.ManyToOne, g.cfg.ConfidenceFor(models.MethodForeignKey), models.MethodForeignKey))
		}
	}
	return rels
}

func (g *foreignKeyGenerator) resolveTarget(source *models.TableSchema, col *models.ColumnInfo, lookup map[string]*models.TableSchema) (*models.TableSchema, *models.ColumnInfo, bool) {
	base := patterns.RemoveSuffixes(strings.ToLower(col.Name), []string{"_id", "_key", "_fk", "_pk"})
	if base == strings.ToLower(col.Name) {
		return nil, nil, false
	}

	candidates := []string{base, inflection.Plural(base)}
	for _, prefix := range patterns.ConventionPrefixes() {
		candidates = append(candidates, prefix+base)
	}

	for _, name := range candidates {
		target, ok := lookup[name]
		if !ok || target.Name == source.Name {
			continue
		}
		if targetCol, ok := bestTargetColumn(target, col); ok {
			return target, targetCol, true
		}
	}
	return nil, nil, false
}
