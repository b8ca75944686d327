// Package render serializes an inferred relationship graph into
// diagram markup.
package render

import (
	"fmt"
	"strings"

	"github.com/schemaforge/erd-engine/pkg/models"
)

// Format is the closed set of supported output formats.
type Format string

const (
	FormatMermaid  Format = "mermaid"
	FormatPlantUML Format = "plantuml"
)

// ParseFormat validates a format string from CLI or config input.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatMermaid:
		return FormatMermaid, nil
	case FormatPlantUML:
		return FormatPlantUML, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (mermaid, plantuml)", s)
	}
}

// Extension returns the conventional file extension for the format.
func (f Format) Extension() string {
	switch f {
	case FormatMermaid:
		return ".mmd"
	case FormatPlantUML:
		return ".puml"
	}
	return ".txt"
}

// Options tunes diagram output.
type Options struct {
	ShowColumnTypes bool
}

// Render serializes the tables and relationships in the given format.
func Render(format Format, tables []*models.TableSchema, rels []*models.Relationship, opts Options) (string, error) {
	switch format {
	case FormatMermaid:
		return renderMermaid(tables, rels, opts), nil
	case FormatPlantUML:
		return renderPlantUML(tables, rels, opts), nil
	default:
		return "", fmt.Errorf("unsupported output format %q", format)
	}
}

// connector maps a relationship kind to crow's-foot notation, shared
// by both formats.
func connector(kind models.RelationshipKind) string {
	switch kind {
	case models.OneToOne:
		return "||--||"
	case models.OneToMany:
		return "||--o{"
	case models.ManyToOne:
		return "}o--||"
	case models.ManyToMany:
		return "}o--o{"
	default:
		return "||--o{"
	}
}

func renderMermaid(tables []*models.TableSchema, rels []*models.Relationship, opts Options) string {
	var b strings.Builder
	b.WriteString("erDiagram\n")

	for _, table := range tables {
		fmt.Fprintf(&b, "    %s {\n", table.Name)
		for _, col := range table.Columns {
			b.WriteString("        ")
			b.WriteString(mermaidColumn(col, opts))
			b.WriteByte('\n')
		}
		b.WriteString("    }\n\n")
	}

	for _, rel := range rels {
		fmt.Fprintf(&b, "    %s %s %s : \"%s -> %s\"\n",
			rel.SourceTable, connector(rel.Kind), rel.TargetTable,
			rel.SourceColumn, rel.TargetColumn)
	}
	return b.String()
}

func mermaidColumn(col *models.ColumnInfo, opts Options) string {
	parts := make([]string, 0, 4)
	if opts.ShowColumnTypes {
		parts = append(parts, strings.ToLower(col.DataType))
	} else {
		parts = append(parts, "string")
	}
	parts = append(parts, col.Name)
	if col.IsPrimaryKey {
		parts = append(parts, "PK")
	}
	if col.IsForeignKey {
		parts = append(parts, "FK")
	}
	return strings.Join(parts, " ")
}

func renderPlantUML(tables []*models.TableSchema, rels []*models.Relationship, opts Options) string {
	var b strings.Builder
	b.WriteString("@startuml ERD\n!theme plain\n\n")

	for _, table := range tables {
		fmt.Fprintf(&b, "entity \"%s\" as %s {\n", table.Name, entityName(table.Name))
		for _, col := range table.Columns {
			b.WriteString("    ")
			b.WriteString(plantumlColumn(col, opts))
			b.WriteByte('\n')
		}
		b.WriteString("}\n\n")
	}

	for _, rel := range rels {
		fmt.Fprintf(&b, "%s %s %s : %s -> %s\n",
			entityName(rel.SourceTable), connector(rel.Kind), entityName(rel.TargetTable),
			rel.SourceColumn, rel.TargetColumn)
	}

	b.WriteString("@enduml\n")
	return b.String()
}

// entityName converts a table name to a valid PlantUML identifier.
func entityName(table string) string {
	return strings.ToLower(strings.NewReplacer("-", "_", " ", "_").Replace(table))
}

func plantumlColumn(col *models.ColumnInfo, opts Options) string {
	parts := make([]string, 0, 4)
	if col.IsPrimaryKey {
		parts = append(parts, "*")
	}
	if col.IsForeignKey {
		parts = append(parts, "~")
	}
	if col.Mode == models.ModeRequired {
		parts = append(parts, "NOT NULL")
	}
	parts = append(parts, col.Name)
	if opts.ShowColumnTypes {
		parts = append(parts, ": "+col.DataType)
	}
	return strings.Join(parts, " ")
}
