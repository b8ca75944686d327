package models

// CustomRule pins one explicit relationship that pattern matching would
// miss or get wrong. Confidence defaults to 1.0 when zero; Kind
// defaults to many_to_one when empty.
type CustomRule struct {
	SourceTable  string           `json:"source_table" yaml:"source_table"`
	SourceColumn string           `json:"source_column" yaml:"source_column"`
	TargetTable  string           `json:"target_table" yaml:"target_table"`
	TargetColumn string           `json:"target_column" yaml:"target_column"`
	Kind         RelationshipKind `json:"relationship_type" yaml:"relationship_type"`
	Confidence   float64          `json:"confidence" yaml:"confidence"`
}

// NamingPatternRule maps a column-name regex to a target table derived
// from the first capture group plus a suffix. A column `acct_ref`
// matching `^(.+)_ref$` with suffix `s` resolves to table `accts`.
type NamingPatternRule struct {
	Pattern      string  `json:"pattern" yaml:"pattern"`
	TargetSuffix string  `json:"target_suffix" yaml:"target_suffix"`
	Confidence   float64 `json:"confidence" yaml:"confidence"`
}

// CustomRuleSet is the user-supplied rules document.
type CustomRuleSet struct {
	Relationships  []CustomRule        `json:"relationships" yaml:"relationships"`
	NamingPatterns []NamingPatternRule `json:"naming_patterns" yaml:"naming_patterns"`
}
