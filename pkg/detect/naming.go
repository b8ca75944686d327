package detect

import (
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/schemaforge/erd-engine/pkg/models"
	"github.com/schemaforge/erd-engine/pkg/patterns"
)

var namingIDRe = regexp.MustCompile(`(?i)^(.+)_id$`)

// namingConventionGenerator maps `<token>_id` columns to a table named
// after the pluralized token. Columns already flagged foreign key are
// left to the foreign-key generator.
type namingConventionGenerator struct {
	cfg *patterns.Config
}

func newNamingConventionGenerator(cfg *patterns.Config) *namingConventionGenerator {
	return &namingConventionGenerator{cfg: cfg}
}

func (g *namingConventionGenerator) Name() string { return models.MethodNamingConvention }

func (g *namingConventionGenerator) Generate(tables []*models.TableSchema, lookup map[string]*models.TableSchema) []*models.Relationship {
	var rels []*models.Relationship
	for _, table := range tables {
		for _, col := range table.Columns {
			if col.IsForeignKey {
				continue
			}
			m := namingIDRe.FindStringSubmatch(col.Name)
			if m == nil {
				continue
			}
			target, ok := lookup[inflection.Plural(strings.ToLower(m[1]))]
			if !ok || target.Name == table.Name {
				continue
			}
			targetCol, ok := bestTargetColumn(target, col)
			if !ok {
				continue
			}
			rels = append(rels, models.NewRelationship(
				table.Name, col.Name, target.Name, targetCol.Name,
				models.ManyToOne, g.cfg.ConfidenceFor(models.MethodNamingConvention), models.MethodNamingConvention))
		}
	}
	return rels
}
