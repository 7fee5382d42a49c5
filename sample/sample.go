// Package sample writes fake source files shaped like a destination list,
// for rehearsing an import before running it on real data.
package sample

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/andys/listimport/mapper"
	"github.com/andys/listimport/schema"
)

// TimestampLayout is used for generated Created/Modified values
const TimestampLayout = "2006-01-02 15:04:05"

// Options describes the file to generate
type Options struct {
	Fields    []schema.Field
	ColumnMap map[string]string // Source header -> destination field
	Rows      int

	// InvalidRate is the fraction of choice cells given a value outside the allowed set
	InvalidRate float64
	Seed        uint64

	// Dates adds Created and Modified columns
	Dates     bool
	Delimiter rune
}

// Stats reports what was generated
type Stats struct {
	Rows         int
	InvalidCells int
}

type column struct {
	header string
	field  schema.Field
}

// Generate writes a header line and opts.Rows fake rows to w
func Generate(w io.Writer, opts Options) (Stats, error) {
	var stats Stats
	if opts.Rows < 0 {
		return stats, fmt.Errorf("row count must not be negative: %d", opts.Rows)
	}
	if opts.InvalidRate < 0 || opts.InvalidRate > 1 {
		return stats, fmt.Errorf("invalid rate must be between 0 and 1: %g", opts.InvalidRate)
	}

	columns, err := resolveColumns(opts)
	if err != nil {
		return stats, err
	}

	header := make([]string, 0, len(columns)+2)
	for _, col := range columns {
		header = append(header, col.header)
	}
	if opts.Dates {
		header = append(header, mapper.CreatedHeader, mapper.ModifiedHeader)
	}

	out := csv.NewWriter(w)
	if opts.Delimiter != 0 {
		out.Comma = opts.Delimiter
	}
	if err := out.Write(header); err != nil {
		return stats, fmt.Errorf("failed to write header: %w", err)
	}

	g := &generator{
		faker:       gofakeit.New(opts.Seed),
		invalidRate: opts.InvalidRate,
	}
	record := make([]string, len(header))
	for i := 0; i < opts.Rows; i++ {
		for j, col := range columns {
			record[j] = g.value(col.field)
		}
		if opts.Dates {
			created, modified := g.timestamps()
			record[len(columns)] = created
			record[len(columns)+1] = modified
		}
		if err := out.Write(record); err != nil {
			return stats, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
		stats.Rows++
	}

	out.Flush()
	if err := out.Error(); err != nil {
		return stats, fmt.Errorf("failed to flush output: %w", err)
	}
	stats.InvalidCells = g.invalid
	return stats, nil
}

func resolveColumns(opts Options) ([]column, error) {
	if len(opts.ColumnMap) == 0 {
		return nil, fmt.Errorf("column map must contain at least one entry")
	}

	headers := make([]string, 0, len(opts.ColumnMap))
	for h := range opts.ColumnMap {
		if opts.Dates && (h == mapper.CreatedHeader || h == mapper.ModifiedHeader) {
			continue
		}
		headers = append(headers, h)
	}
	sort.Strings(headers)

	columns := make([]column, 0, len(headers))
	for _, h := range headers {
		field, ok := schema.Find(opts.Fields, opts.ColumnMap[h])
		if !ok {
			return nil, fmt.Errorf("list has no field named %s", opts.ColumnMap[h])
		}
		columns = append(columns, column{header: h, field: field})
	}
	return columns, nil
}

type generator struct {
	faker       *gofakeit.Faker
	invalidRate float64
	invalid     int
}

func (g *generator) corrupt() bool {
	if g.invalidRate <= 0 || g.faker.Float64() >= g.invalidRate {
		return false
	}
	g.invalid++
	return true
}

func (g *generator) bogus() string {
	return "not-" + strings.ToLower(g.faker.Word())
}

func (g *generator) value(field schema.Field) string {
	switch field.Kind {
	case schema.Choice:
		values := field.Choices.Values()
		if len(values) == 0 {
			return ""
		}
		if g.corrupt() {
			return g.bogus()
		}
		return g.faker.RandomString(values)

	case schema.MultiChoice:
		values := field.Choices.Values()
		if len(values) == 0 {
			return ""
		}
		g.faker.ShuffleStrings(values)
		n := g.faker.Number(1, min(3, len(values)))
		picked := values[:n]
		if g.corrupt() {
			picked = append(picked, g.bogus())
		}
		return strings.Join(picked, "; ")

	default:
		return g.faker.Adjective() + " " + g.faker.Noun()
	}
}

func (g *generator) timestamps() (string, string) {
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	created := g.faker.DateRange(start, end)
	modified := created.Add(time.Duration(g.faker.Number(0, 24*365)) * time.Hour)
	return created.Format(TimestampLayout), modified.Format(TimestampLayout)
}
