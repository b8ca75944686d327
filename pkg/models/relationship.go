package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RelationshipKind is the cardinality of a discovered relationship.
type RelationshipKind string

const (
	OneToOne   RelationshipKind = "one_to_one"
	OneToMany  RelationshipKind = "one_to_many"
	ManyToOne  RelationshipKind = "many_to_one"
	ManyToMany RelationshipKind = "many_to_many"
)

// ValidRelationshipKinds contains all valid relationship kind values.
var ValidRelationshipKinds = []RelationshipKind{OneToOne, OneToMany, ManyToOne, ManyToMany}

// IsValid checks if the kind is one of the known cardinalities.
func (k RelationshipKind) IsValid() bool {
	switch k {
	case OneToOne, OneToMany, ManyToOne, ManyToMany:
		return true
	}
	return false
}

// ParseRelationshipKind parses a kind string, accepting both the canonical
// form and the legacy upper-case form (MANY_TO_ONE).
func ParseRelationshipKind(s string) (RelationshipKind, error) {
	k := RelationshipKind(strings.ToLower(s))
	if !k.IsValid() {
		return "", fmt.Errorf("invalid relationship kind %q", s)
	}
	return k, nil
}

// Detection method names. Confidence defaults per method live in the
// pattern configuration; these constants are the identity of each
// candidate generator.
const (
	MethodForeignKey       = "foreign_key"
	MethodEnhancedPKFK     = "enhanced_pk_fk"
	MethodNamingConvention = "naming_convention"
	MethodDataTypeMatch    = "data_type_match"
	MethodCustomRule       = "custom_rule"
	MethodNamingPattern    = "naming_pattern"
)

// Relationship is one directed table-to-table link discovered by a
// candidate generator. Identity for conflict resolution is the
// (source table, source column, target table, target column) tuple;
// the uuid ID only distinguishes persisted records.
type Relationship struct {
	ID              uuid.UUID        `json:"id" yaml:"id"`
	SourceTable     string           `json:"source_table" yaml:"source_table"`
	SourceColumn    string           `json:"source_column" yaml:"source_column"`
	TargetTable     string           `json:"target_table" yaml:"target_table"`
	TargetColumn    string           `json:"target_column" yaml:"target_column"`
	Kind            RelationshipKind `json:"kind" yaml:"kind"`
	Confidence      float64          `json:"confidence" yaml:"confidence"`
	DetectionMethod string           `json:"detection_method" yaml:"detection_method"`
	IsCustom        bool             `json:"is_custom" yaml:"is_custom"`
	DataValidated   bool             `json:"data_validated" yaml:"data_validated"`
	CreatedAt       time.Time        `json:"created_at" yaml:"created_at"`
}

// NewRelationship builds a relationship with a fresh ID and timestamp.
func NewRelationship(srcTable, srcCol, tgtTable, tgtCol string, kind RelationshipKind, confidence float64, method string) *Relationship {
	return &Relationship{
		ID:              uuid.New(),
		SourceTable:     srcTable,
		SourceColumn:    srcCol,
		TargetTable:     tgtTable,
		TargetColumn:    tgtCol,
		Kind:            kind,
		Confidence:      confidence,
		DetectionMethod: method,
		CreatedAt:       time.Now().UTC(),
	}
}

// Key returns the identity tuple used for conflict resolution. Two
// relationships with the same key describe the same link.
func (r *Relationship) Key() string {
	return r.SourceTable + "." + r.SourceColumn + "->" + r.TargetTable + "." + r.TargetColumn
}

// PairKey returns the unordered table pair, smaller name first. Used for
// final diagram-level dedupe and as the cache key.
func (r *Relationship) PairKey() string {
	a, b := r.SourceTable, r.TargetTable
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// KindLabel returns the kind with the validation marker appended when the
// relationship survived a data validation pass.
func (r *Relationship) KindLabel() string {
	if r.DataValidated {
		return string(r.Kind) + "_data_validated"
	}
	return string(r.Kind)
}

func (r *Relationship) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s (%s, %.2f, %s)",
		r.SourceTable, r.SourceColumn, r.TargetTable, r.TargetColumn,
		r.Kind, r.Confidence, r.DetectionMethod)
}
