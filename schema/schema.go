package schema

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Kind is the closed set of column kinds the importer distinguishes
type Kind int

const (
	Other Kind = iota
	Choice
	MultiChoice
)

func (k Kind) String() string {
	switch k {
	case Choice:
		return "choice"
	case MultiChoice:
		return "multi-choice"
	default:
		return "other"
	}
}

// Field represents one column of a destination list
type Field struct {
	Name    string
	Type    string // Backend type tag, informational only
	Kind    Kind
	Choices ChoiceSet // Only populated for Choice and MultiChoice
	IsID    bool      // True if this is the list's identity column
}

// ChoiceSet is an ordered set of allowed values with case-insensitive lookup
type ChoiceSet struct {
	values []string
	folded map[string]string
}

// fold returns the case-folded key of a value. Casers are stateful, so one is built per call.
func fold(value string) string {
	return cases.Fold().String(value)
}

// NewChoiceSet builds a set from allowed values, keeping the first casing seen for each value
func NewChoiceSet(values ...string) ChoiceSet {
	set := ChoiceSet{
		values: make([]string, 0, len(values)),
		folded: make(map[string]string, len(values)),
	}
	for _, v := range values {
		key := fold(v)
		if _, ok := set.folded[key]; ok {
			continue
		}
		set.folded[key] = v
		set.values = append(set.values, v)
	}
	return set
}

// Lookup returns the canonical casing of value if it is allowed
func (s ChoiceSet) Lookup(value string) (string, bool) {
	if s.folded == nil {
		return "", false
	}
	canonical, ok := s.folded[fold(value)]
	return canonical, ok
}

// Values returns the allowed values in their original order
func (s ChoiceSet) Values() []string {
	out := make([]string, len(s.values))
	copy(out, s.values)
	return out
}

// Len returns the number of allowed values
func (s ChoiceSet) Len() int {
	return len(s.values)
}

func (s ChoiceSet) String() string {
	return "[" + strings.Join(s.values, ", ") + "]"
}

// Classification holds the choice columns of a list keyed by internal name
type Classification struct {
	Choice      map[string]ChoiceSet
	MultiChoice map[string]ChoiceSet
}

// Classify partitions fields into single-choice and multi-choice mappings.
// Fields of any other kind pass through unmapped.
func Classify(fields []Field) Classification {
	c := Classification{
		Choice:      make(map[string]ChoiceSet),
		MultiChoice: make(map[string]ChoiceSet),
	}
	for _, f := range fields {
		switch f.Kind {
		case Choice:
			c.Choice[f.Name] = f.Choices
		case MultiChoice:
			c.MultiChoice[f.Name] = f.Choices
		}
	}
	return c
}

// KindOf reports how a destination field is treated by the mapper
func (c Classification) KindOf(name string) Kind {
	if _, ok := c.Choice[name]; ok {
		return Choice
	}
	if _, ok := c.MultiChoice[name]; ok {
		return MultiChoice
	}
	return Other
}

// Find returns the field with the given name
func Find(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Describe renders a one-line description of a field for console output
func (f Field) Describe() string {
	if f.Kind == Other {
		return fmt.Sprintf("%s (%s)", f.Name, f.Type)
	}
	return fmt.Sprintf("%s (%s, %s) %s", f.Name, f.Type, f.Kind, f.Choices)
}
