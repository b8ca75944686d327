// Package detect holds the candidate generators that propose
// relationships between annotated tables, plus the conflict resolver
// and the per-table filter applied to their combined output.
package detect

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/schemaforge/erd-engine/pkg/models"
	"github.com/schemaforge/erd-engine/pkg/patterns"
)

// Generator is one independent detection strategy. Generators scan a
// group of source tables but resolve targets against the full table
// lookup, so cross-group links are found regardless of grouping.
type Generator interface {
	Name() string
	Generate(tables []*models.TableSchema, lookup map[string]*models.TableSchema) []*models.Relationship
}

// Engine runs the configured generators in a fixed order and applies
// conflict resolution and filtering to their combined output.
type Engine struct {
	cfg        *patterns.Config
	generators []Generator
	logger     *zap.Logger
}

// NewEngine builds the standard generator chain. Custom rules are
// optional; when nil only the built-in generators run.
func NewEngine(cfg *patterns.Config, rules *models.CustomRuleSet, logger *zap.Logger) *Engine {
	log := logger.Named("detect")
	gens := []Generator{
		newForeignKeyGenerator(cfg),
		newEnhancedPKFKGenerator(cfg),
		newNamingConventionGenerator(cfg),
		newDataTypeMatchGenerator(cfg),
	}
	if rules != nil {
		gens = append(gens, newCustomRuleGenerator(cfg, rules, log))
	}
	return &Engine{cfg: cfg, generators: gens, logger: log}
}

// Lookup builds the case-insensitive name→table index the generators
// resolve targets against.
func Lookup(tables []*models.TableSchema) map[string]*models.TableSchema {
	m := make(map[string]*models.TableSchema, len(tables))
	for _, t := range tables {
		m[strings.ToLower(t.Name)] = t
	}
	return m
}

// Generate runs every generator over the table group and returns the
// raw candidate list, in generator-invocation order.
func (e *Engine) Generate(tables []*models.TableSchema, lookup map[string]*models.TableSchema) []*models.Relationship {
	var candidates []*models.Relationship
	for _, g := range e.generators {
		found := g.Generate(tables, lookup)
		e.logger.Debug("generator finished",
			zap.String("generator", g.Name()),
			zap.Int("candidates", len(found)))
		candidates = append(candidates, found...)
	}
	return candidates
}

// ResolveConflicts collapses candidates sharing the same identity key.
// The highest confidence wins; on an exact tie a custom rule beats an
// automatic detection, otherwise the first seen is kept. Output
// preserves first-seen key order.
func ResolveConflicts(candidates []*models.Relationship) []*models.Relationship {
	byKey := make(map[string]*models.Relationship, len(candidates))
	var order []string
	for _, rel := range candidates {
		key := rel.Key()
		existing, ok := byKey[key]
		if !ok {
			byKey[key] = rel
			order = append(order, key)
			continue
		}
		if rel.Confidence > existing.Confidence {
			byKey[key] = rel
		} else if rel.Confidence == existing.Confidence && rel.IsCustom && !existing.IsCustom {
			byKey[key] = rel
		}
	}
	out := make([]*models.Relationship, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

// Filter bounds the per-table fan-out. Per source table: candidates
// below the hard floor are dropped, preferred candidates (trusted
// method or confidence at the preferred threshold) are kept best-first
// up to the cap, and when fewer than the backfill minimum survive the
// next-best candidates above the backfill floor are added. Finally the
// whole result is deduplicated by unordered table pair, keeping the
// first-seen edge per pair.
func (e *Engine) Filter(candidates []*models.Relationship) []*models.Relationship {
	rules := e.cfg.FilteringRules
	preferred := make(map[string]bool, len(rules.PreferredMethods))
	for _, m := range rules.PreferredMethods {
		preferred[m] = true
	}

	// Group by source table, preserving first-appearance order.
	byTable := make(map[string][]*models.Relationship)
	var tableOrder []string
	for _, rel := range candidates {
		if _, ok := byTable[rel.SourceTable]; !ok {
			tableOrder = append(tableOrder, rel.SourceTable)
		}
		byTable[rel.SourceTable] = append(byTable[rel.SourceTable], rel)
	}

	var filtered []*models.Relationship
	for _, table := range tableOrder {
		pool := sortByConfidence(byTable[table])

		var kept []*models.Relationship
		var rest []*models.Relationship
		for _, rel := range pool {
			if rel.Confidence < rules.MinConfidence {
				continue
			}
			if len(kept) < rules.MaxPerTable && (preferred[rel.DetectionMethod] || rel.Confidence >= rules.PreferredConfidence) {
				kept = append(kept, rel)
			} else {
				rest = append(rest, rel)
			}
		}
		for _, rel := range rest {
			if len(kept) >= rules.BackfillMinimum || len(kept) >= rules.MaxPerTable {
				break
			}
			if rel.Confidence >= rules.BackfillConfidence {
				kept = append(kept, rel)
			}
		}
		filtered = append(filtered, kept...)
	}

	// One edge per table pair in the final output.
	seenPairs := make(map[string]bool, len(filtered))
	out := make([]*models.Relationship, 0, len(filtered))
	for _, rel := range filtered {
		pair := rel.PairKey()
		if seenPairs[pair] {
			continue
		}
		seenPairs[pair] = true
		out = append(out, rel)
	}

	e.logger.Debug("filtered relationships",
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(out)))
	return out
}

// sortByConfidence returns a copy sorted descending, stable with
// respect to input order on ties.
func sortByConfidence(rels []*models.Relationship) []*models.Relationship {
	out := make([]*models.Relationship, len(rels))
	copy(out, rels)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// bestTargetColumn picks the column a foreign key should point at:
// the target's first primary key when one exists, otherwise the
// highest-scoring column of matching type (+10 for a generic key name,
// +5 for REQUIRED).
func bestTargetColumn(target *models.TableSchema, source *models.ColumnInfo) (*models.ColumnInfo, bool) {
	if pks := target.PrimaryKeys(); len(pks) > 0 {
		return pks[0], true
	}

	var best *models.ColumnInfo
	bestScore := -1
	for _, col := range target.Columns {
		if col.DataType != source.DataType {
			continue
		}
		score := 0
		switch strings.ToLower(col.Name) {
		case "id", "key", "pk":
			score += 10
		}
		if col.Mode == models.ModeRequired {
			score += 5
		}
		if score > bestScore {
			best = col
			bestScore = score
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}
