package measurement

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrMissingColumn is returned when a file lacks a required column. The file
// is skipped; other files still load.
var ErrMissingColumn = eris.New("measurement: missing required column")

// Column describes one input column: its canonical name, the spellings seen
// in source files, and the value used when the column is absent.
type Column struct {
	Name     string
	Aliases  []string
	Required bool
	Default  float64
}

// Schema is the typed input contract of a dataset.
type Schema struct {
	Columns []Column
}

// Header is a source header mapped onto canonical names.
type Header struct {
	// Names has one entry per source column: the canonical name, or a unique
	// placeholder for columns the schema does not know.
	Names   []string
	present map[string]bool
}

// Has reports whether the canonical column was present in the file.
func (h *Header) Has(name string) bool {
	return h.present[name]
}

// Column returns the schema column with the given canonical name.
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Canonicalize maps a raw header row onto canonical names, matching names and
// aliases case-insensitively after trimming whitespace and a UTF-8 BOM. The
// first source column wins when several map to the same name.
func (s Schema) Canonicalize(raw []string) (*Header, error) {
	lookup := make(map[string]string)
	for _, c := range s.Columns {
		lookup[strings.ToLower(c.Name)] = c.Name
		for _, a := range c.Aliases {
			lookup[strings.ToLower(a)] = c.Name
		}
	}

	h := &Header{Names: make([]string, len(raw)), present: make(map[string]bool)}
	for i, col := range raw {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		name, ok := lookup[strings.ToLower(col)]
		if !ok || h.present[name] {
			h.Names[i] = fmt.Sprintf("_ignored_%d", i)
			continue
		}
		h.Names[i] = name
		h.present[name] = true
	}

	var missing []string
	for _, c := range s.Columns {
		if c.Required && !h.present[c.Name] {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 {
		return h, eris.Wrapf(ErrMissingColumn, "measurement: missing %s", strings.Join(missing, ", "))
	}
	return h, nil
}
