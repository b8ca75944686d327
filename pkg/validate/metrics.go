package validate

import (
	"strings"

	"github.com/schemaforge/erd-engine/pkg/models"
)

// ReferentialIntegrity is the fraction of distinct source values found
// among the target values, plus the orphan count over distinct source
// values. Zero when no source samples exist.
func ReferentialIntegrity(sourceValues, targetValues []string) (float64, int) {
	if len(sourceValues) == 0 {
		return 0.0, 0
	}

	sourceSet := make(map[string]struct{}, len(sourceValues))
	for _, v := range sourceValues {
		sourceSet[v] = struct{}{}
	}
	targetSet := make(map[string]struct{}, len(targetValues))
	for _, v := range targetValues {
		targetSet[v] = struct{}{}
	}

	overlap := 0
	for v := range sourceSet {
		if _, ok := targetSet[v]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(sourceSet)), len(sourceSet) - overlap
}

// compatibleTypes maps a declared type to types considered close enough
// for a 0.8 score.
var compatibleTypes = map[string][]string{
	"int64":     {"integer", "int32", "int64"},
	"integer":   {"int64", "int32", "integer"},
	"string":    {"varchar", "text", "char"},
	"varchar":   {"string", "text", "char"},
	"float64":   {"float", "double", "numeric"},
	"float":     {"float64", "double", "numeric"},
	"timestamp": {"datetime", "date"},
	"datetime":  {"timestamp", "date"},
}

var numericFamily = map[string]bool{
	"int64": true, "integer": true, "int32": true,
	"float64": true, "float": true, "double": true, "numeric": true,
}

var stringFamily = map[string]bool{
	"string": true, "varchar": true, "text": true, "char": true,
}

// TypeCompatibility scores the declared types of the two columns:
// 1.0 exact, 0.8 configured-compatible, 0.6 same broad family, 0.2
// otherwise, 0.0 when either column is missing from its schema.
func TypeCompatibility(rel *models.Relationship, tables map[string]*models.TableSchema) float64 {
	sourceTable, ok := tables[rel.SourceTable]
	if !ok {
		return 0.0
	}
	targetTable, ok := tables[rel.TargetTable]
	if !ok {
		return 0.0
	}
	sourceCol := sourceTable.Column(rel.SourceColumn)
	targetCol := targetTable.Column(rel.TargetColumn)
	if sourceCol == nil || targetCol == nil {
		return 0.0
	}

	src := strings.ToLower(sourceCol.DataType)
	tgt := strings.ToLower(targetCol.DataType)
	if src == tgt {
		return 1.0
	}
	for _, t := range compatibleTypes[src] {
		if t == tgt {
			return 0.8
		}
	}
	if numericFamily[src] && numericFamily[tgt] {
		return 0.6
	}
	if stringFamily[src] && stringFamily[tgt] {
		return 0.6
	}
	return 0.2
}

// DistributionSimilarity compares value frequency histograms. For
// values present in both samples the per-value similarity is one minus
// the absolute ratio difference; the average is weighted by how much of
// the larger histogram the common values cover. Zero when either sample
// is empty or the samples share no values.
func DistributionSimilarity(sourceValues, targetValues []string) float64 {
	if len(sourceValues) == 0 || len(targetValues) == 0 {
		return 0.0
	}

	sourceFreq := frequency(sourceValues)
	targetFreq := frequency(targetValues)

	var common []string
	for v := range sourceFreq {
		if _, ok := targetFreq[v]; ok {
			common = append(common, v)
		}
	}
	if len(common) == 0 {
		return 0.0
	}

	total := 0.0
	for _, v := range common {
		sourceRatio := float64(sourceFreq[v]) / float64(len(sourceValues))
		targetRatio := float64(targetFreq[v]) / float64(len(targetValues))
		diff := sourceRatio - targetRatio
		if diff < 0 {
			diff = -diff
		}
		total += 1.0 - diff
	}

	maxBuckets := len(sourceFreq)
	if len(targetFreq) > maxBuckets {
		maxBuckets = len(targetFreq)
	}
	coverage := float64(len(common)) / float64(maxBuckets)
	return (total / float64(len(common))) * coverage
}

func frequency(values []string) map[string]int {
	freq := make(map[string]int, len(values))
	for _, v := range values {
		freq[v]++
	}
	return freq
}
