// Package patterns holds the declarative configuration that drives key
// annotation and relationship discovery: table naming conventions per
// modeling methodology, column-level key indicators, target-table
// detection strategies, per-method confidence defaults, and the
// filtering rules applied to discovered relationships.
package patterns

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// TablePattern describes one table naming convention within a
// methodology. Key patterns support the `*` wildcard.
type TablePattern struct {
	Prefix             string   `yaml:"prefix" json:"prefix"`
	Description        string   `yaml:"description,omitempty" json:"description,omitempty"`
	PrimaryKeyPatterns []string `yaml:"primary_key_patterns" json:"primary_key_patterns"`
	ForeignKeyPatterns []string `yaml:"foreign_key_patterns" json:"foreign_key_patterns"`
}

// StrategyRule is one rule within a detection strategy.
type StrategyRule struct {
	Pattern         string   `yaml:"pattern" json:"pattern"`
	Suffixes        []string `yaml:"suffixes,omitempty" json:"suffixes,omitempty"`
	Transformations []string `yaml:"transformations,omitempty" json:"transformations,omitempty"`
}

// DetectionStrategy names an ordered target-table resolution strategy.
type DetectionStrategy struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Confidence  float64        `yaml:"confidence" json:"confidence"`
	Rules       []StrategyRule `yaml:"rules" json:"rules"`
}

// ColumnPatterns holds the global key indicator patterns checked before
// any table-specific convention.
type ColumnPatterns struct {
	PrimaryKeyIndicators []string `yaml:"primary_key_indicators" json:"primary_key_indicators"`
	ForeignKeyIndicators []string `yaml:"foreign_key_indicators" json:"foreign_key_indicators"`
}

// FilteringRules bounds the relationship set kept per source table.
type FilteringRules struct {
	MaxPerTable         int      `yaml:"max_relationships_per_table" json:"max_relationships_per_table"`
	MinConfidence       float64  `yaml:"min_confidence_threshold" json:"min_confidence_threshold"`
	PreferredMethods    []string `yaml:"preferred_detection_methods" json:"preferred_detection_methods"`
	PreferredConfidence float64  `yaml:"preferred_confidence_threshold" json:"preferred_confidence_threshold"`
	BackfillConfidence  float64  `yaml:"backfill_confidence_threshold" json:"backfill_confidence_threshold"`
	BackfillMinimum     int      `yaml:"backfill_minimum" json:"backfill_minimum"`
}

// Config is the full pattern configuration document. Table patterns are
// keyed methodology → pattern name.
type Config struct {
	TablePatterns       map[string]map[string]TablePattern `yaml:"table_patterns" json:"table_patterns"`
	DetectionStrategies []DetectionStrategy                `yaml:"detection_strategies" json:"detection_strategies"`
	ColumnPatterns      ColumnPatterns                     `yaml:"column_patterns" json:"column_patterns"`
	ConfidenceScoring   map[string]float64                 `yaml:"confidence_scoring" json:"confidence_scoring"`
	FilteringRules      FilteringRules                     `yaml:"filtering_rules" json:"filtering_rules"`
}

// conventionPrefixes are tried when a stripped column base name does not
// directly match a table name.
var conventionPrefixes = []string{"h_", "dim_", "l_", "ref_", "fact_", "tbl_", "table_"}

// keySuffixes are the foreign-key column suffixes stripped when deriving
// a base entity name from a column name.
var keySuffixes = []string{"_id", "_key", "_fk", "_pk", "_hk", "_hash_key"}

// Default returns the built-in configuration covering Data Vault and
// traditional warehouse conventions.
func Default() *Config {
	return &Config{
		TablePatterns: map[string]map[string]TablePattern{
			"data_vault": {
				"hub": {
					Prefix:             "h_",
					Description:        "Data Vault hub",
					PrimaryKeyPatterns: []string{"*_hk", "*_hash_key", "hash_key", "hk", "id"},
					ForeignKeyPatterns: []string{},
				},
				"dimension": {
					Prefix:             "dim_",
					Description:        "Data Vault dimension",
					PrimaryKeyPatterns: []string{"dim_key", "*_key", "id"},
					ForeignKeyPatterns: []string{"*_hk", "*_id"},
				},
				"link": {
					Prefix:             "l_",
					Description:        "Data Vault link",
					PrimaryKeyPatterns: []string{"link_key", "*_hk", "id"},
					ForeignKeyPatterns: []string{"*_hk", "*_hash_key"},
				},
				"reference": {
					Prefix:             "ref_",
					Description:        "Data Vault reference",
					PrimaryKeyPatterns: []string{"code", "*_code", "id"},
					ForeignKeyPatterns: []string{},
				},
			},
			"traditional_dw": {
				"dimension": {
					Prefix:             "dim_",
					Description:        "Dimension table",
					PrimaryKeyPatterns: []string{"*_key", "*_id", "id"},
					ForeignKeyPatterns: []string{"*_id"},
				},
				"fact": {
					Prefix:             "fact_",
					Description:        "Fact table",
					PrimaryKeyPatterns: []string{"id", "*_key"},
					ForeignKeyPatterns: []string{"*_id", "*_key"},
				},
				"bridge": {
					Prefix:             "bridge_",
					Description:        "Bridge table",
					PrimaryKeyPatterns: []string{"id"},
					ForeignKeyPatterns: []string{"*_id", "*_key"},
				},
			},
		},
		DetectionStrategies: []DetectionStrategy{
			{
				Name:       "suffix_removal",
				Confidence: 0.8,
				Rules: []StrategyRule{
					{Pattern: "remove_suffixes", Suffixes: []string{"_id", "_key", "_fk", "_pk"}},
				},
			},
			{
				Name:       "data_vault_hub_reference",
				Confidence: 0.9,
				Rules: []StrategyRule{
					{Pattern: "data_vault_hub_reference"},
				},
			},
			{
				Name:       "plural_singular",
				Confidence: 0.7,
				Rules: []StrategyRule{
					{Pattern: "plural_singular", Transformations: []string{"add_s", "add_es", "remove_s"}},
				},
			},
		},
		ColumnPatterns: ColumnPatterns{
			PrimaryKeyIndicators: []string{"id", "key", "pk", "*_pk", "hash_key", "hk"},
			ForeignKeyIndicators: []string{"*_id", "*_key", "*_fk", "*_hk", "*_hash_key"},
		},
		ConfidenceScoring: map[string]float64{
			"foreign_key":       0.8,
			"enhanced_pk_fk":    0.9,
			"naming_convention": 0.6,
			"data_type_match":   0.4,
			"custom_rule":       1.0,
			"naming_pattern":    0.9,
		},
		FilteringRules: FilteringRules{
			MaxPerTable:         5,
			MinConfidence:       0.2,
			PreferredMethods:    []string{"enhanced_pk_fk", "foreign_key", "custom_rule", "naming_pattern"},
			PreferredConfidence: 0.5,
			BackfillConfidence:  0.3,
			BackfillMinimum:     2,
		},
	}
}

// Load reads a pattern configuration from a YAML file. Sections absent
// from the document fall back to the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse pattern config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("pattern config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.FilteringRules.MaxPerTable <= 0 {
		return fmt.Errorf("max_relationships_per_table must be positive, got %d", c.FilteringRules.MaxPerTable)
	}
	if c.FilteringRules.MinConfidence < 0 || c.FilteringRules.MinConfidence > 1 {
		return fmt.Errorf("min_confidence_threshold out of range: %v", c.FilteringRules.MinConfidence)
	}
	for method, score := range c.ConfidenceScoring {
		if score < 0 || score > 1 {
			return fmt.Errorf("confidence for %s out of range: %v", method, score)
		}
	}
	return nil
}

// PatternMatch pairs a matched table pattern with its origin.
type PatternMatch struct {
	Methodology string
	Name        string
	Pattern     TablePattern
}

// PatternsForTable returns every table pattern whose prefix matches the
// table name. A table can match patterns from multiple methodologies.
func (c *Config) PatternsForTable(tableName string) []PatternMatch {
	lower := strings.ToLower(tableName)
	var matches []PatternMatch
	for methodology, byName := range c.TablePatterns {
		for name, p := range byName {
			if p.Prefix != "" && strings.HasPrefix(lower, p.Prefix) {
				matches = append(matches, PatternMatch{Methodology: methodology, Name: name, Pattern: p})
			}
		}
	}
	return matches
}

// IsPrimaryKeyCandidate reports whether the column name matches a global
// primary-key indicator or a table-specific primary-key pattern.
func (c *Config) IsPrimaryKeyCandidate(columnName, tableName string) bool {
	lower := strings.ToLower(columnName)
	for _, indicator := range c.ColumnPatterns.PrimaryKeyIndicators {
		if matchesPattern(lower, indicator) {
			return true
		}
	}
	for _, m := range c.PatternsForTable(tableName) {
		for _, p := range m.Pattern.PrimaryKeyPatterns {
			if matchesPattern(lower, p) {
				return true
			}
		}
	}
	return false
}

// IsForeignKeyCandidate reports whether the column name matches a global
// foreign-key indicator or a table-specific foreign-key pattern.
func (c *Config) IsForeignKeyCandidate(columnName, tableName string) bool {
	lower := strings.ToLower(columnName)
	for _, indicator := range c.ColumnPatterns.ForeignKeyIndicators {
		if matchesPattern(lower, indicator) {
			return true
		}
	}
	for _, m := range c.PatternsForTable(tableName) {
		for _, p := range m.Pattern.ForeignKeyPatterns {
			if matchesPattern(lower, p) {
				return true
			}
		}
	}
	return false
}

// FindTargetTable resolves a foreign-key column name to a table from the
// available set by applying the detection strategies in order. Matching
// is case-insensitive; the returned name keeps its original case. The
// second return is false when no strategy produced a match.
func (c *Config) FindTargetTable(columnName string, available []string) (string, bool) {
	lower := strings.ToLower(columnName)
	lowerToOriginal := make(map[string]string, len(available))
	for _, t := range available {
		lowerToOriginal[strings.ToLower(t)] = t
	}

	for _, strategy := range c.DetectionStrategies {
		if target, ok := applyStrategy(strategy, lower, lowerToOriginal); ok {
			return lowerToOriginal[target], true
		}
	}
	return "", false
}

func applyStrategy(strategy DetectionStrategy, columnName string, tables map[string]string) (string, bool) {
	for _, rule := range strategy.Rules {
		switch rule.Pattern {
		case "remove_suffixes":
			base := RemoveSuffixes(columnName, rule.Suffixes)
			if _, ok := tables[base]; ok {
				return base, true
			}
			for _, prefix := range conventionPrefixes {
				if _, ok := tables[prefix+base]; ok {
					return prefix + base, true
				}
			}

		case "data_vault_hub_reference":
			if strings.HasSuffix(columnName, "_hk") || strings.HasSuffix(columnName, "_hash_key") {
				hub := "h_" + hashKeySuffixRe.ReplaceAllString(columnName, "")
				if _, ok := tables[hub]; ok {
					return hub, true
				}
			}

		case "plural_singular":
			base := RemoveSuffixes(columnName, keySuffixes)
			for _, transform := range rule.Transformations {
				var candidate string
				switch transform {
				case "add_s":
					candidate = base + "s"
				case "add_es":
					candidate = base + "es"
				case "remove_s":
					candidate = strings.TrimRight(base, "s")
				default:
					continue
				}
				if _, ok := tables[candidate]; ok {
					return candidate, true
				}
				for _, prefix := range conventionPrefixes {
					if _, ok := tables[prefix+candidate]; ok {
						return prefix + candidate, true
					}
				}
			}
		}
	}
	return "", false
}

var hashKeySuffixRe = regexp.MustCompile(`_(hk|hash_key)$`)

// matchesPattern compares case-insensitively; `*` in the pattern matches
// any run of characters.
func matchesPattern(text, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return strings.EqualFold(text, pattern)
	}
	parts := strings.Split(pattern, "*")
	for i := range parts {
		parts[i] = regexp.QuoteMeta(parts[i])
	}
	re, err := regexp.Compile("(?i)^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// RemoveSuffixes strips the first matching suffix from text.
func RemoveSuffixes(text string, suffixes []string) string {
	for _, s := range suffixes {
		if strings.HasSuffix(text, s) {
			return strings.TrimSuffix(text, s)
		}
	}
	return text
}

// ConfidenceFor returns the configured confidence for a detection
// method, defaulting to 0.5 for unknown methods.
func (c *Config) ConfidenceFor(method string) float64 {
	if score, ok := c.ConfidenceScoring[method]; ok {
		return score
	}
	return 0.5
}

// KeySuffixes returns the suffixes treated as foreign-key markers when
// deriving entity names from column names.
func KeySuffixes() []string {
	out := make([]string, len(keySuffixes))
	copy(out, keySuffixes)
	return out
}

// ConventionPrefixes returns the table name prefixes tried during target
// resolution.
func ConventionPrefixes() []string {
	out := make([]string, len(conventionPrefixes))
	copy(out, conventionPrefixes)
	return out
}
