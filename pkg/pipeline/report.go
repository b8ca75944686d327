package pipeline

import "github.com/schemaforge/erd-engine/pkg/models"

// Confidence bands for the quality report.
const (
	highConfidence   = 0.8
	mediumConfidence = 0.5
)

// QualityReport buckets a relationship set for human review.
type QualityReport struct {
	Total             int            `json:"total"`
	HighConfidence    int            `json:"high_confidence"`
	MediumConfidence  int            `json:"medium_confidence"`
	LowConfidence     int            `json:"low_confidence"`
	ByMethod          map[string]int `json:"by_method"`
	ByKind            map[string]int `json:"by_kind"`
	AverageConfidence float64        `json:"average_confidence"`
	DataValidated     int            `json:"data_validated"`
}

// BuildReport summarizes the relationship set. High is >= 0.8, medium
// is [0.5, 0.8), low is the rest.
func BuildReport(rels []*models.Relationship) QualityReport {
	report := QualityReport{
		Total:    len(rels),
		ByMethod: map[string]int{},
		ByKind:   map[string]int{},
	}
	if len(rels) == 0 {
		return report
	}

	var sum float64
	for _, rel := range rels {
		switch {
		case rel.Confidence >= highConfidence:
			report.HighConfidence++
		case rel.Confidence >= mediumConfidence:
			report.MediumConfidence++
		default:
			report.LowConfidence++
		}
		report.ByMethod[rel.DetectionMethod]++
		report.ByKind[rel.KindLabel()]++
		if rel.DataValidated {
			report.DataValidated++
		}
		sum += rel.Confidence
	}
	report.AverageConfidence = sum / float64(len(rels))
	return report
}
