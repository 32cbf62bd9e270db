// Package joins converts the curated join-example sheet into the per-table
// lookup used by the table detail page.
package joins

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	bqerrors "github.com/bqeco/bqmeta/internal/errors"
	"github.com/bqeco/bqmeta/pkg/types"
)

// ProgramPlaceholder is substituted with each program of a row.
const ProgramPlaceholder = "[PROGRAM]"

// Column positions in the sheet. Column 1 is reserved.
const (
	colPrograms = iota
	_
	colTitle
	colDescription
	colTables
	colCondition
	colSQL

	numColumns
)

// Converter turns sheet rows into join entries.
type Converter struct {
	// ProjectPrefix is the project whose "project.dataset" table references
	// are rewritten to "project:dataset".
	ProjectPrefix string
}

// Convert reads the CSV sheet, skipping its header row. Entries appear in
// order of the first row that mentions each table.
func (c *Converter) Convert(r io.Reader) ([]types.JoinEntry, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	acc := newAccumulator()
	rows := 0
	header := true
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, rows, bqerrors.NewInputError(bqerrors.CodeMalformedCSV, "read join examples", err)
		}
		if header {
			header = false
			continue
		}
		rows++
		if len(rec) < numColumns {
			line, _ := reader.FieldPos(0)
			return nil, rows, bqerrors.NewInputError(bqerrors.CodeMalformedCSV,
				fmt.Sprintf("join example on line %d has %d columns, want %d", line, len(rec), numColumns), nil)
		}
		c.expand(rec, acc)
	}
	return acc.entries(), rows, nil
}

// expand adds one example per table of each program's table set.
func (c *Converter) expand(rec []string, acc *accumulator) {
	templates := splitList(rec[colTables])
	for _, prog := range splitList(rec[colPrograms]) {
		sql := strings.ReplaceAll(rec[colSQL], ProgramPlaceholder, prog)
		tables := make([]string, 0, len(templates))
		for _, tmpl := range templates {
			tables = append(tables, c.tableID(strings.ReplaceAll(tmpl, ProgramPlaceholder, prog)))
		}
		for _, tbl := range tables {
			others := make([]string, 0, len(tables)-1)
			for _, t := range tables {
				if t != tbl {
					others = append(others, t)
				}
			}
			acc.add(tbl, types.JoinExample{
				Title:       rec[colTitle],
				Description: rec[colDescription],
				Tables:      others,
				SQL:         sql,
				Condition:   rec[colCondition],
			})
		}
	}
}

func (c *Converter) tableID(ref string) string {
	if c.ProjectPrefix == "" {
		return ref
	}
	return strings.ReplaceAll(ref, c.ProjectPrefix+".", c.ProjectPrefix+":")
}

// splitList removes spaces and splits on ';'. Empty items are kept, so an
// empty program column still expands once.
func splitList(s string) []string {
	return strings.Split(strings.ReplaceAll(s, " ", ""), ";")
}

type accumulator struct {
	order []string
	byID  map[string]*types.JoinEntry
}

func newAccumulator() *accumulator {
	return &accumulator{byID: make(map[string]*types.JoinEntry)}
}

func (a *accumulator) add(id string, ex types.JoinExample) {
	e, ok := a.byID[id]
	if !ok {
		e = &types.JoinEntry{ID: id, Joins: []types.JoinExample{}}
		a.byID[id] = e
		a.order = append(a.order, id)
	}
	e.Joins = append(e.Joins, ex)
}

func (a *accumulator) entries() []types.JoinEntry {
	out := make([]types.JoinEntry, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.byID[id])
	}
	return out
}
