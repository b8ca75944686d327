// Package state tracks which tables were already processed, keyed by a
// structural fingerprint, so unchanged tables keep their previously
// discovered relationships across runs.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/schemaforge/erd-engine/pkg/models"
)

// DefaultMaxAge is the staleness window for the whole state document.
const DefaultMaxAge = 24 * time.Hour

// document is the persisted shape: one JSON file rewritten wholesale.
type document struct {
	Fingerprints  map[string]string                 `json:"fingerprints"`
	Processed     map[string]time.Time              `json:"processed"`
	Relationships map[string][]*models.Relationship `json:"relationships"`
}

// Stats summarizes the stored state.
type Stats struct {
	ProcessedTables    int        `json:"processed_tables"`
	TotalRelationships int        `json:"total_relationships"`
	LastProcessed      *time.Time `json:"last_processed,omitempty"`
}

// Processor owns the incremental state for one state file.
type Processor struct {
	mu     sync.Mutex
	path   string
	doc    document
	logger *zap.Logger
	now    func() time.Time
}

// New loads the state file at path. A missing file starts empty; a
// corrupt file is logged and discarded, forcing a full rebuild.
func New(path string, logger *zap.Logger) *Processor {
	p := &Processor{
		path:   path,
		logger: logger.Named("state"),
		now:    time.Now,
	}
	p.doc = p.load()
	return p
}

func (p *Processor) load() document {
	empty := document{
		Fingerprints:  map[string]string{},
		Processed:     map[string]time.Time{},
		Relationships: map[string][]*models.Relationship{},
	}

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return empty
	}
	if err != nil {
		p.logger.Warn("cannot read state file, starting empty", zap.String("path", p.path), zap.Error(err))
		return empty
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		p.logger.Warn("corrupt state file, starting empty", zap.String("path", p.path), zap.Error(err))
		return empty
	}
	if doc.Fingerprints == nil {
		doc.Fingerprints = map[string]string{}
	}
	if doc.Processed == nil {
		doc.Processed = map[string]time.Time{}
	}
	if doc.Relationships == nil {
		doc.Relationships = map[string][]*models.Relationship{}
	}
	return doc
}

// Fingerprint hashes a table's structural metadata: the table name plus
// its sorted name:type:mode:pk:fk column strings. Column order does not
// affect the result.
func Fingerprint(table *models.TableSchema) string {
	parts := make([]string, 0, len(table.Columns))
	for _, c := range table.Columns {
		parts = append(parts, fmt.Sprintf("%s:%s:%s:%t:%t",
			c.Name, c.DataType, c.Mode, c.IsPrimaryKey, c.IsForeignKey))
	}
	sort.Strings(parts)

	h := sha256.New()
	h.Write([]byte(table.Name))
	h.Write([]byte("|"))
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// NeedsProcessing reports whether the table was never processed or its
// fingerprint changed since the last run.
func (p *Processor) NeedsProcessing(table *models.TableSchema) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	stored, ok := p.doc.Fingerprints[table.Name]
	return !ok || stored != Fingerprint(table)
}

// TablesToProcess filters the input down to new or changed tables.
func (p *Processor) TablesToProcess(tables []*models.TableSchema) []*models.TableSchema {
	var out []*models.TableSchema
	for _, t := range tables {
		if p.NeedsProcessing(t) {
			out = append(out, t)
		}
	}
	return out
}

// MarkProcessed records the table's current fingerprint and timestamp.
func (p *Processor) MarkProcessed(table *models.TableSchema) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.Fingerprints[table.Name] = Fingerprint(table)
	p.doc.Processed[table.Name] = p.now()
}

// SetRelationships stores the relationships discovered for one table.
func (p *Processor) SetRelationships(table string, rels []*models.Relationship) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.Relationships[table] = rels
}

// Relationships returns the stored relationships for one table.
func (p *Processor) Relationships(table string) []*models.Relationship {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Relationships[table]
}

// AllRelationships returns every stored relationship, deduplicated by
// identity key (a relationship may be stored under both of its tables).
func (p *Processor) AllRelationships() []*models.Relationship {
	p.mu.Lock()
	defer p.mu.Unlock()

	tables := make([]string, 0, len(p.doc.Relationships))
	for t := range p.doc.Relationships {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	seen := map[string]bool{}
	var out []*models.Relationship
	for _, t := range tables {
		for _, rel := range p.doc.Relationships[t] {
			if seen[rel.Key()] {
				continue
			}
			seen[rel.Key()] = true
			out = append(out, rel)
		}
	}
	return out
}

// Stale reports whether no table was processed within maxAge. A
// non-positive maxAge uses DefaultMaxAge. Empty state is stale.
func (p *Processor) Stale(maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-maxAge)
	for _, ts := range p.doc.Processed {
		if ts.After(cutoff) {
			return false
		}
	}
	return true
}

// Clear drops state for tables whose name contains the pattern; an
// empty pattern drops everything. Returns the number of tables cleared.
func (p *Processor) Clear(pattern string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cleared := 0
	for table := range p.doc.Fingerprints {
		if pattern == "" || strings.Contains(table, pattern) {
			delete(p.doc.Fingerprints, table)
			delete(p.doc.Processed, table)
			delete(p.doc.Relationships, table)
			cleared++
		}
	}
	return cleared
}

// Stats summarizes the state document.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{ProcessedTables: len(p.doc.Processed)}
	seen := map[string]bool{}
	for _, rels := range p.doc.Relationships {
		for _, rel := range rels {
			if !seen[rel.Key()] {
				seen[rel.Key()] = true
				stats.TotalRelationships++
			}
		}
	}
	for _, ts := range p.doc.Processed {
		ts := ts
		if stats.LastProcessed == nil || ts.After(*stats.LastProcessed) {
			stats.LastProcessed = &ts
		}
	}
	return stats
}

// Save rewrites the whole state document atomically via a temp file
// and rename.
func (p *Processor) Save() error {
	p.mu.Lock()
	data, err := json.MarshalIndent(p.doc, "", "  ")
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
