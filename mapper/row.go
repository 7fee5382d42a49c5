package mapper

import "strings"

// Header maps a source column name to its position in a row
type Header map[string]int

// NewHeader builds a header index; the first occurrence of a duplicated name wins
func NewHeader(names []string) Header {
	h := make(Header, len(names))
	for i, name := range names {
		name = strings.TrimSpace(name)
		if _, ok := h[name]; !ok {
			h[name] = i
		}
	}
	return h
}

// Row represents a single line of the source file
type Row struct {
	No     int64 // 1-based data line number, header excluded
	Header Header
	Values []string
}

// Get returns the raw value for a header and whether the row carries that column
func (r Row) Get(name string) (string, bool) {
	idx, ok := r.Header[name]
	if !ok || idx >= len(r.Values) {
		return "", false
	}
	return r.Values[idx], true
}

// Record is a destination-ready row
type Record struct {
	Row    int64
	Fields map[string]interface{} // string, or []string for multi-choice fields

	// Retained source timestamps, copied verbatim when dates are preserved
	Created       string
	Modified      string
	HasTimestamps bool
}
