package detect

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/schemaforge/erd-engine/pkg/models"
	"github.com/schemaforge/erd-engine/pkg/patterns"
)

// customRuleGenerator applies user-declared relationships verbatim and
// user-defined naming-pattern rules. Explicit rules carry IsCustom so
// they win confidence ties during conflict resolution.
type customRuleGenerator struct {
	cfg    *patterns.Config
	rules  *models.CustomRuleSet
	logger *zap.Logger
}

func newCustomRuleGenerator(cfg *patterns.Config, rules *models.CustomRuleSet, logger *zap.Logger) *customRuleGenerator {
	return &customRuleGenerator{cfg: cfg, rules: rules, logger: logger.Named("custom-rules")}
}

func (g *customRuleGenerator) Name() string { return models.MethodCustomRule }

func (g *customRuleGenerator) Generate(tables []*models.TableSchema, lookup map[string]*models.TableSchema) []*models.Relationship {
	var rels []*models.Relationship

	for _, rule := range g.rules.Relationships {
		source, ok := lookup[strings.ToLower(rule.SourceTable)]
		if !ok {
			continue
		}
		target, ok := lookup[strings.ToLower(rule.TargetTable)]
		if !ok {
			continue
		}
		if source.Column(rule.SourceColumn) == nil || target.Column(rule.TargetColumn) == nil {
			continue
		}

		kind := rule.Kind
		if kind == "" {
			kind = models.ManyToOne
		}
		confidence := rule.Confidence
		if confidence == 0 {
			confidence = g.cfg.ConfidenceFor(models.MethodCustomRule)
		}
		rel := models.NewRelationship(
			source.Name, rule.SourceColumn, target.Name, rule.TargetColumn,
			kind, confidence, models.MethodCustomRule)
		rel.IsCustom = true
		rels = append(rels, rel)
	}

	for _, pattern := range g.rules.NamingPatterns {
		rels = append(rels, g.applyNamingPattern(pattern, tables, lookup)...)
	}
	return rels
}

func (g *customRuleGenerator) applyNamingPattern(rule models.NamingPatternRule, tables []*models.TableSchema, lookup map[string]*models.TableSchema) []*models.Relationship {
	re, err := regexp.Compile("(?i)" + rule.Pattern)
	if err != nil {
		g.logger.Warn("skipping invalid naming pattern",
			zap.String("pattern", rule.Pattern),
			zap.Error(err))
		return nil
	}

	confidence := rule.Confidence
	if confidence == 0 {
		confidence = g.cfg.ConfidenceFor(models.MethodNamingPattern)
	}

	var rels []*models.Relationship
	for _, table := range tables {
		for _, col := range table.Columns {
			m := re.FindStringSubmatch(col.Name)
			if m == nil {
				continue
			}
			base := col.Name
			if len(m) > 1 {
				base = m[1]
			}
			target, ok := lookup[strings.ToLower(base+rule.TargetSuffix)]
			if !ok || target.Name == table.Name {
				continue
			}
			targetCol, ok := bestTargetColumn(target, col)
			if !ok {
				continue
			}
			rels = append(rels, models.NewRelationship(
				table.Name, col.Name, target.Name, targetCol.Name,
				models.ManyToOne, confidence, models.MethodNamingPattern))
		}
	}
	return rels
}
