// Package validate corroborates candidate relationships against live
// data samples. Each candidate's confidence is adjusted by a weighted
// blend of referential overlap, declared type compatibility, and value
// distribution similarity.
package validate

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/schemaforge/erd-engine/pkg/models"
)

// Confidence adjustments applied after a data pass. Tests pin these
// exact values.
const (
	// PassBoost is added to a candidate's confidence when the data
	// check clears the pass threshold, capped at 1.0.
	PassBoost = 0.2
	// FailPenalty is subtracted when the data check falls short,
	// floored at ConfidenceFloor.
	FailPenalty = 0.3
	// ConfidenceFloor keeps failed candidates visible for review
	// instead of erasing them.
	ConfidenceFloor = 0.1
)

// Metric weights for the overall data-test score.
const (
	weightReferentialIntegrity = 0.5
	weightTypeCompatibility    = 0.3
	weightDistribution         = 0.2
)

// SampleSource fetches non-null scalar values for a column. Implemented
// by warehouse adapters and by offline sample documents.
type SampleSource interface {
	// Samples returns up to limit non-null values from table.column.
	Samples(ctx context.Context, table, column string, limit int) ([]string, error)

	// RowCount returns the table's row count, used for adaptive
	// sample sizing.
	RowCount(ctx context.Context, table string) (int64, error)
}

// TestResult carries the individual metric scores for one candidate.
type TestResult struct {
	ReferentialIntegrity   float64 `json:"referential_integrity"`
	TypeCompatibility      float64 `json:"type_compatibility"`
	DistributionSimilarity float64 `json:"distribution_similarity"`
	OverallConfidence      float64 `json:"overall_confidence"`
	SampleSize             int     `json:"sample_size"`
	OrphanCount            int     `json:"orphan_count"`
}

// Options configures a validation pass.
type Options struct {
	SampleSize    int
	PassThreshold float64
	Workers       int
	SampleTimeout time.Duration
}

// DefaultOptions mirrors the documented defaults: 1000-value samples,
// 8 sampling workers, 30s per sample fetch.
func DefaultOptions() Options {
	return Options{
		SampleSize:    1000,
		PassThreshold: 0.7,
		Workers:       8,
		SampleTimeout: 30 * time.Second,
	}
}

// Validator runs the optional data pass over candidates.
type Validator interface {
	// Validate adjusts each candidate's confidence in place and
	// returns the same slice. Sample-source failures leave the
	// affected candidate unchanged.
	Validate(ctx context.Context, rels []*models.Relationship, tables map[string]*models.TableSchema) []*models.Relationship

	// Test computes the raw metric scores for one candidate without
	// mutating it.
	Test(ctx context.Context, rel *models.Relationship, tables map[string]*models.TableSchema) (TestResult, error)

	// AdaptiveSampleSize sizes a sample for the table via Cochran's
	// formula with finite-population correction.
	AdaptiveSampleSize(ctx context.Context, table string, confidenceLevel float64) (int, error)
}

type validator struct {
	source SampleSource
	opts   Options
	logger *zap.Logger

	mu          sync.Mutex
	sampleCache map[sampleKey][]string
}

type sampleKey struct {
	table  string
	column string
	limit  int
}

// New creates a validator over the given sample source.
func New(source SampleSource, opts Options, logger *zap.Logger) Validator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultOptions().SampleSize
	}
	if opts.SampleTimeout <= 0 {
		opts.SampleTimeout = DefaultOptions().SampleTimeout
	}
	if opts.PassThreshold <= 0 {
		opts.PassThreshold = DefaultOptions().PassThreshold
	}
	return &validator{
		source:      source,
		opts:        opts,
		logger:      logger.Named("validator"),
		sampleCache: make(map[sampleKey][]string),
	}
}

var _ Validator = (*validator)(nil)

func (v *validator) Validate(ctx context.Context, rels []*models.Relationship, tables map[string]*models.TableSchema) []*models.Relationship {
	if len(rels) == 0 {
		return rels
	}

	jobs := make(chan *models.Relationship)
	var wg sync.WaitGroup
	for i := 0; i < v.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rel := range jobs {
				v.validateOne(ctx, rel, tables)
			}
		}()
	}
	for _, rel := range rels {
		jobs <- rel
	}
	close(jobs)
	wg.Wait()
	return rels
}

func (v *validator) validateOne(ctx context.Context, rel *models.Relationship, tables map[string]*models.TableSchema) {
	result, err := v.Test(ctx, rel, tables)
	if err != nil {
		v.logger.Warn("data test failed, leaving candidate unchanged",
			zap.String("relationship", rel.Key()),
			zap.Error(err))
		return
	}

	if result.OverallConfidence >= v.opts.PassThreshold {
		rel.Confidence = math.Min(1.0, rel.Confidence+PassBoost)
		rel.DataValidated = true
		v.logger.Debug("data test passed",
			zap.String("relationship", rel.Key()),
			zap.Float64("overall", result.OverallConfidence),
			zap.Float64("confidence", rel.Confidence))
	} else {
		rel.Confidence = math.Max(ConfidenceFloor, rel.Confidence-FailPenalty)
		v.logger.Debug("data test rejected candidate",
			zap.String("relationship", rel.Key()),
			zap.Float64("overall", result.OverallConfidence),
			zap.Float64("confidence", rel.Confidence))
	}
}

func (v *validator) Test(ctx context.Context, rel *models.Relationship, tables map[string]*models.TableSchema) (TestResult, error) {
	sourceSample, err := v.samples(ctx, rel.SourceTable, rel.SourceColumn)
	if err != nil {
		return TestResult{}, err
	}
	targetSample, err := v.samples(ctx, rel.TargetTable, rel.TargetColumn)
	if err != nil {
		return TestResult{}, err
	}
	if len(sourceSample) == 0 || len(targetSample) == 0 {
		return TestResult{}, nil
	}

	integrity, orphans := ReferentialIntegrity(sourceSample, targetSample)
	compat := TypeCompatibility(rel, tables)
	distribution := DistributionSimilarity(sourceSample, targetSample)
	overall := clamp01(integrity*weightReferentialIntegrity +
		compat*weightTypeCompatibility +
		distribution*weightDistribution)

	return TestResult{
		ReferentialIntegrity:   integrity,
		TypeCompatibility:      compat,
		DistributionSimilarity: distribution,
		OverallConfidence:      overall,
		SampleSize:             len(sourceSample),
		OrphanCount:            orphans,
	}, nil
}

// samples fetches column values with a per-fetch timeout, caching per
// (table, column, limit) for the duration of the run.
func (v *validator) samples(ctx context.Context, table, column string) ([]string, error) {
	key := sampleKey{table: table, column: column, limit: v.opts.SampleSize}
	v.mu.Lock()
	cached, ok := v.sampleCache[key]
	v.mu.Unlock()
	if ok {
		return cached, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, v.opts.SampleTimeout)
	defer cancel()
	values, err := v.source.Samples(fetchCtx, table, column, v.opts.SampleSize)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.sampleCache[key] = values
	v.mu.Unlock()
	return values, nil
}

// cochranZ maps confidence levels to z-scores; unlisted levels fall
// back to the 95% score.
var cochranZ = map[float64]float64{
	0.90: 1.645,
	0.95: 1.96,
	0.99: 2.576,
}

const cochranMargin = 0.05

func (v *validator) AdaptiveSampleSize(ctx context.Context, table string, confidenceLevel float64) (int, error) {
	rows, err := v.source.RowCount(ctx, table)
	if err != nil {
		return 0, err
	}
	return CochranSampleSize(rows, confidenceLevel), nil
}

// CochranSampleSize computes n = z²·0.25/e² with a finite-population
// correction. Tables under 1000 rows are sampled in full.
func CochranSampleSize(population int64, confidenceLevel float64) int {
	if population < 1000 {
		return int(population)
	}

	z, ok := cochranZ[confidenceLevel]
	if !ok {
		z = cochranZ[0.95]
	}
	n := (z * z * 0.25) / (cochranMargin * cochranMargin)
	if float64(population) < n {
		return int(population)
	}
	adjusted := n / (1 + (n-1)/float64(population))
	if adjusted > float64(population) {
		return int(population)
	}
	return int(adjusted)
}

func clamp01(v float64) float64 {
	return math.Min(1.0, math.Max(0.0, v))
}
