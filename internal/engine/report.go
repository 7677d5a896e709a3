package engine

import (
	"fmt"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/stacksync/internal/model"
)

// CountRow is one line of a count table.
type CountRow struct {
	Type        model.MigrationType `json:"type"`
	Source      int64               `json:"source"`
	Destination int64               `json:"destination"`
}

// CountTable compares record counts per type across both stacks.
type CountTable []CountRow

// BuildCountTable joins both stacks' counts. Rows follow destination order;
// types only the source has are appended in source order.
func BuildCountTable(src, dest []model.TypeCount) CountTable {
	srcByType := make(map[model.MigrationType]int64, len(src))
	for _, c := range src {
		srcByType[c.Type] = c.Count
	}

	table := make(CountTable, 0, len(dest))
	seen := make(map[model.MigrationType]bool, len(dest))
	for _, c := range dest {
		table = append(table, CountRow{Type: c.Type, Source: srcByType[c.Type], Destination: c.Count})
		seen[c.Type] = true
	}
	for _, c := range src {
		if !seen[c.Type] {
			table = append(table, CountRow{Type: c.Type, Source: c.Count})
		}
	}
	return table
}

// Mismatched returns the rows whose counts differ.
func (t CountTable) Mismatched() CountTable {
	var out CountTable
	for _, r := range t {
		if r.Source != r.Destination {
			out = append(out, r)
		}
	}
	return out
}

// Fprint writes the table with locale-grouped numbers ("12,345").
func (t CountTable) Fprint(w io.Writer, title string) error {
	p := message.NewPrinter(language.English)
	if _, err := fmt.Fprintf(w, "%s\n", title); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%-32s %15s %15s\n", "TYPE", "SOURCE", "DESTINATION"); err != nil {
		return err
	}
	for _, r := range t {
		marker := ""
		if r.Source != r.Destination {
			marker = " *"
		}
		if _, err := p.Fprintf(w, "%-32s %15d %15d%s\n", r.Type, r.Source, r.Destination, marker); err != nil {
			return err
		}
	}
	return nil
}

// TypeReport summarizes one type in a pass.
type TypeReport struct {
	Type    model.MigrationType `json:"type"`
	Delta   model.DeltaCounts   `json:"delta"`
	Applied model.DeltaCounts   `json:"applied"`
}

// PassReport summarizes one migration pass.
type PassReport struct {
	PassID      string       `json:"pass_id"`
	Types       []TypeReport `json:"types"`
	StartCounts CountTable   `json:"start_counts"`
	EndCounts   CountTable   `json:"end_counts,omitempty"`
	FinalSync   bool         `json:"final_sync"`
}

// Totals sums the delta and applied counts over all types.
func (r *PassReport) Totals() (delta, applied model.DeltaCounts) {
	for _, t := range r.Types {
		delta = delta.Add(t.Delta)
		applied = applied.Add(t.Applied)
	}
	return delta, applied
}
