package mapper

import (
	"fmt"
	"sort"
	"strings"

	"github.com/andys/listimport/schema"
)

// Source headers captured when dates are preserved, independent of the column map
const (
	CreatedHeader  = "Created"
	ModifiedHeader = "Modified"
)

// InvalidChoice is reported for a value that is not in a choice field's allowed set
type InvalidChoice struct {
	Row   int64
	Field string
	Value string
}

func (w InvalidChoice) String() string {
	return fmt.Sprintf("row %d: invalid value %q for choice field %s", w.Row, w.Value, w.Field)
}

// Options controls per-run mapping behaviour
type Options struct {
	PreserveDates bool
	// TrimChoices trims single-choice values before matching.
	// Multi-choice pieces are always trimmed.
	TrimChoices bool
}

// Map converts a source row into a record for the destination list.
// Invalid choice values are dropped from the record and reported as warnings.
func Map(row Row, columnMap map[string]string, cls schema.Classification, opts Options) (Record, []InvalidChoice) {
	rec := Record{
		Row:    row.No,
		Fields: make(map[string]interface{}, len(columnMap)),
	}
	var warnings []InvalidChoice

	headers := make([]string, 0, len(columnMap))
	for h := range columnMap {
		headers = append(headers, h)
	}
	sort.Strings(headers)

	for _, header := range headers {
		field := columnMap[header]
		raw, ok := row.Get(header)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}

		switch cls.KindOf(field) {
		case schema.Choice:
			value := raw
			if opts.TrimChoices {
				value = strings.TrimSpace(value)
			}
			canonical, ok := cls.Choice[field].Lookup(value)
			if !ok {
				warnings = append(warnings, InvalidChoice{Row: row.No, Field: field, Value: raw})
				continue
			}
			rec.Fields[field] = canonical

		case schema.MultiChoice:
			values, invalid := matchPieces(raw, cls.MultiChoice[field])
			for _, v := range invalid {
				warnings = append(warnings, InvalidChoice{Row: row.No, Field: field, Value: v})
			}
			if len(values) > 0 {
				rec.Fields[field] = values
			}

		default:
			rec.Fields[field] = raw
		}
	}

	if opts.PreserveDates {
		rec.Created, _ = row.Get(CreatedHeader)
		rec.Modified, _ = row.Get(ModifiedHeader)
		rec.HasTimestamps = strings.TrimSpace(rec.Created) != "" || strings.TrimSpace(rec.Modified) != ""
	}

	return rec, warnings
}

// matchPieces splits a multi-choice value on commas and semicolons and
// resolves each piece against the allowed set
func matchPieces(raw string, allowed schema.ChoiceSet) (values []string, invalid []string) {
	pieces := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
	seen := make(map[string]bool, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		canonical, ok := allowed.Lookup(piece)
		if !ok {
			invalid = append(invalid, piece)
			continue
		}
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		values = append(values, canonical)
	}
	return values, invalid
}
