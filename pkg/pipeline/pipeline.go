// Package pipeline wires the annotator, candidate generators, data
// validator, cache, and incremental state into one run.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/schemaforge/erd-engine/pkg/analyzer"
	"github.com/schemaforge/erd-engine/pkg/cache"
	"github.com/schemaforge/erd-engine/pkg/detect"
	"github.com/schemaforge/erd-engine/pkg/models"
	"github.com/schemaforge/erd-engine/pkg/state"
	"github.com/schemaforge/erd-engine/pkg/validate"
)

// Options selects the pipeline behavior for one run.
type Options struct {
	// Incremental skips tables whose fingerprint is unchanged and
	// reuses their stored relationships. Requires a state processor.
	Incremental bool
	// Parallel fans generation out over table groups.
	Parallel bool
	// GroupByType groups tables by name-prefix class; otherwise by
	// column-count batches.
	GroupByType bool
	// BatchSize bounds the size of one generation group.
	BatchSize int
	// Workers bounds concurrent generation groups.
	Workers int
	// BatchTimeout drops a generation group that runs too long.
	BatchTimeout time.Duration
	// Validate runs the data pass when a validator is configured.
	Validate bool
	// Progress, when set, is called as groups complete.
	Progress func(done, total int)
}

// DefaultOptions mirrors the documented defaults.
func DefaultOptions() Options {
	return Options{
		Incremental:  true,
		Parallel:     true,
		GroupByType:  true,
		BatchSize:    10,
		Workers:      4,
		BatchTimeout: 300 * time.Second,
		Validate:     false,
	}
}

// Result is the outcome of one pipeline run.
type Result struct {
	// Relationships is ranked by confidence, highest first.
	Relationships []*models.Relationship
	// ProcessedTables counts tables that went through generation.
	ProcessedTables int
	// SkippedTables counts tables reused from incremental state.
	SkippedTables int
	// CarriedOver counts relationships reused from skipped tables.
	CarriedOver int
}

// Pipeline owns the wired components. The cache, state processor, and
// validator are optional; a nil component disables its stage.
type Pipeline struct {
	analyzer  analyzer.Analyzer
	engine    *detect.Engine
	validator validate.Validator
	cache     *cache.Cache
	state     *state.Processor
	opts      Options
	logger    *zap.Logger
}

// New assembles a pipeline.
func New(an analyzer.Analyzer, engine *detect.Engine, v validate.Validator, c *cache.Cache, st *state.Processor, opts Options, logger *zap.Logger) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = DefaultOptions().BatchTimeout
	}
	return &Pipeline{
		analyzer:  an,
		engine:    engine,
		validator: v,
		cache:     c,
		state:     st,
		opts:      opts,
		logger:    logger.Named("pipeline"),
	}
}

// Run executes the full pipeline over the table set.
func (p *Pipeline) Run(ctx context.Context, tables []*models.TableSchema) (*Result, error) {
	p.analyzer.AnnotateAll(tables)
	lookup := detect.Lookup(tables)

	toProcess := tables
	var carried []*models.Relationship
	if p.opts.Incremental && p.state != nil {
		toProcess = p.state.TablesToProcess(tables)
		carried = p.carriedOver(tables, toProcess)
	}

	result := &Result{
		ProcessedTables: len(toProcess),
		SkippedTables:   len(tables) - len(toProcess),
		CarriedOver:     len(carried),
	}

	if len(toProcess) == 0 {
		p.logger.Info("no tables need processing, returning stored relationships",
			zap.Int("carried_over", len(carried)))
		result.Relationships = rank(carried)
		return result, nil
	}

	var candidates []*models.Relationship
	if p.opts.Parallel && len(toProcess) >= 2 {
		candidates = p.generateParallel(ctx, toProcess, lookup)
	} else {
		candidates = p.engine.Generate(toProcess, lookup)
	}

	fresh := p.engine.Filter(detect.ResolveConflicts(candidates))

	if p.opts.Validate && p.validator != nil {
		fresh = p.validateWithCache(ctx, fresh, lookup)
	} else if p.cache != nil {
		p.writeCache(fresh)
	}

	if p.state != nil {
		p.updateState(toProcess, fresh)
	}

	combined := combine(carried, fresh)
	result.Relationships = rank(combined)

	p.logger.Info("pipeline run complete",
		zap.Int("tables", len(tables)),
		zap.Int("processed", result.ProcessedTables),
		zap.Int("skipped", result.SkippedTables),
		zap.Int("relationships", len(result.Relationships)))
	return result, nil
}

// carriedOver collects stored relationships for tables skipped this
// run, deduplicated by identity key.
func (p *Pipeline) carriedOver(all, toProcess []*models.TableSchema) []*models.Relationship {
	selected := make(map[string]bool, len(toProcess))
	for _, t := range toProcess {
		selected[t.Name] = true
	}

	seen := map[string]bool{}
	var carried []*models.Relationship
	for _, t := range all {
		if selected[t.Name] {
			continue
		}
		for _, rel := range p.state.Relationships(t.Name) {
			if seen[rel.Key()] {
				continue
			}
			seen[rel.Key()] = true
			carried = append(carried, rel)
		}
	}
	return carried
}

// generateParallel fans generation out over table groups with a
// bounded worker pool. A group that exceeds the batch timeout is
// dropped with a warning; sibling groups are unaffected.
func (p *Pipeline) generateParallel(ctx context.Context, tables []*models.TableSchema, lookup map[string]*models.TableSchema) []*models.Relationship {
	var groups [][]*models.TableSchema
	if p.opts.GroupByType {
		groups = groupByClass(tables, p.opts.BatchSize)
	} else {
		groups = groupBySize(tables, p.opts.BatchSize)
	}

	var (
		mu        sync.Mutex
		collected []*models.Relationship
		done      int
	)
	jobs := make(chan []*models.TableSchema)
	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range jobs {
				rels, ok := p.generateGroup(ctx, group, lookup)
				mu.Lock()
				if ok {
					collected = append(collected, rels...)
				}
				done++
				if p.opts.Progress != nil {
					p.opts.Progress(done, len(groups))
				}
				mu.Unlock()
			}
		}()
	}
	for _, group := range groups {
		jobs <- group
	}
	close(jobs)
	wg.Wait()
	return collected
}

func (p *Pipeline) generateGroup(ctx context.Context, group []*models.TableSchema, lookup map[string]*models.TableSchema) ([]*models.Relationship, bool) {
	groupCtx, cancel := context.WithTimeout(ctx, p.opts.BatchTimeout)
	defer cancel()

	type output struct{ rels []*models.Relationship }
	ch := make(chan output, 1)
	go func() {
		ch <- output{rels: p.engine.Generate(group, lookup)}
	}()

	select {
	case out := <-ch:
		return out.rels, true
	case <-groupCtx.Done():
		names := make([]string, 0, len(group))
		for _, t := range group {
			names = append(names, t.Name)
		}
		p.logger.Warn("generation group dropped",
			zap.Strings("tables", names),
			zap.Error(groupCtx.Err()))
		return nil, false
	}
}

// validateWithCache consults the cache before validating and writes
// freshly validated relationships back afterwards.
func (p *Pipeline) validateWithCache(ctx context.Context, rels []*models.Relationship, lookup map[string]*models.TableSchema) []*models.Relationship {
	if p.cache == nil {
		return p.validator.Validate(ctx, rels, lookup)
	}

	out := make([]*models.Relationship, len(rels))
	var toValidate []*models.Relationship
	for i, rel := range rels {
		if cached, ok := p.cache.Get(rel.SourceTable, rel.TargetTable); ok {
			out[i] = cached
			continue
		}
		out[i] = rel
		toValidate = append(toValidate, rel)
	}

	p.validator.Validate(ctx, toValidate, lookup)
	p.writeCache(toValidate)
	return out
}

func (p *Pipeline) writeCache(rels []*models.Relationship) {
	for _, rel := range rels {
		if err := p.cache.Put(rel); err != nil {
			p.logger.Warn("cache write failed",
				zap.String("relationship", rel.Key()),
				zap.Error(err))
		}
	}
}

// updateState stores each processed table's relationships and its new
// fingerprint, then persists the whole document.
func (p *Pipeline) updateState(processed []*models.TableSchema, rels []*models.Relationship) {
	for _, table := range processed {
		var tableRels []*models.Relationship
		for _, rel := range rels {
			if rel.SourceTable == table.Name || rel.TargetTable == table.Name {
				tableRels = append(tableRels, rel)
			}
		}
		p.state.SetRelationships(table.Name, tableRels)
		p.state.MarkProcessed(table)
	}
	if err := p.state.Save(); err != nil {
		p.logger.Warn("state save failed", zap.Error(err))
	}
}

// combine merges carried-over and fresh relationships without double
// counting identity keys. Fresh results win on overlap.
func combine(carried, fresh []*models.Relationship) []*models.Relationship {
	seen := make(map[string]bool, len(fresh))
	out := make([]*models.Relationship, 0, len(carried)+len(fresh))
	for _, rel := range fresh {
		seen[rel.Key()] = true
		out = append(out, rel)
	}
	for _, rel := range carried {
		if !seen[rel.Key()] {
			out = append(out, rel)
		}
	}
	return out
}

// rank orders by confidence descending, stable on ties.
func rank(rels []*models.Relationship) []*models.Relationship {
	out := make([]*models.Relationship, len(rels))
	copy(out, rels)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// groupByClass buckets tables by their name-prefix class, splitting
// buckets larger than batchSize.
func groupByClass(tables []*models.TableSchema, batchSize int) [][]*models.TableSchema {
	buckets := make(map[string][]*models.TableSchema)
	var order []string
	for _, t := range tables {
		class := t.Classify()
		if _, ok := buckets[class]; !ok {
			order = append(order, class)
		}
		buckets[class] = append(buckets[class], t)
	}

	var groups [][]*models.TableSchema
	for _, class := range order {
		groups = append(groups, chunk(buckets[class], batchSize)...)
	}
	return groups
}

// groupBySize sorts by column count and chunks into batches.
func groupBySize(tables []*models.TableSchema, batchSize int) [][]*models.TableSchema {
	sorted := make([]*models.TableSchema, len(tables))
	copy(sorted, tables)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Columns) < len(sorted[j].Columns)
	})
	return chunk(sorted, batchSize)
}

func chunk(tables []*models.TableSchema, size int) [][]*models.TableSchema {
	var out [][]*models.TableSchema
	for len(tables) > size {
		out = append(out, tables[:size])
		tables = tables[size:]
	}
	if len(tables) > 0 {
		out = append(out, tables)
	}
	return out
}
