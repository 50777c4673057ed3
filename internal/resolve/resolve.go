// Package resolve maps raw province names from the mobility files onto the
// canonical keys of dim_provinces_it.
package resolve

import (
	"context"
	_ "embed"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cdr-etl/internal/db"
)

//go:embed corrections.yaml
var correctionsYAML []byte

// ErrEmptyDimension is returned when the province dimension has no rows, so
// every name would be unmatched.
var ErrEmptyDimension = eris.New("resolve: province dimension is empty")

// Resolver resolves raw names against a fixed set of canonical provinces. It
// keeps match counters and is not safe for concurrent use.
type Resolver struct {
	canonical   map[string]struct{}
	folded      map[string]string
	corrections map[string]string
	title       cases.Caser
	stripMarks  transform.Transformer
	caseFold    cases.Caser

	// memo holds the outcome per distinct raw spelling.
	memo map[string]match

	matched   int64
	unmatched map[string]int64
}

type match struct {
	name string
	ok   bool
}

// NameCount is an unmatched raw name and how often it was seen.
type NameCount struct {
	Name  string
	Count int64
}

// Stats summarises the names resolved so far.
type Stats struct {
	Matched   int64
	Unmatched int64
}

// DefaultCorrections returns the built-in correction table.
func DefaultCorrections() (map[string]string, error) {
	var doc struct {
		Corrections map[string]string `yaml:"corrections"`
	}
	if err := yaml.Unmarshal(correctionsYAML, &doc); err != nil {
		return nil, eris.Wrap(err, "resolve: parse corrections")
	}
	return doc.Corrections, nil
}

// New builds a Resolver for the given canonical names.
func New(canonical []string, corrections map[string]string) *Resolver {
	r := &Resolver{
		canonical:   make(map[string]struct{}, len(canonical)),
		folded:      make(map[string]string, len(canonical)),
		corrections: make(map[string]string, len(corrections)),
		title:       cases.Title(language.Italian),
		stripMarks:  transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		caseFold:    cases.Fold(),
		memo:        make(map[string]match),
		unmatched:   make(map[string]int64),
	}
	for _, name := range canonical {
		r.canonical[name] = struct{}{}
		key := r.fold(name)
		if _, dup := r.folded[key]; !dup {
			r.folded[key] = name
		}
	}
	for from, to := range corrections {
		r.corrections[r.fold(from)] = to
	}
	return r
}

// Load primes a Resolver from dim_provinces_it with the default corrections.
func Load(ctx context.Context, pool db.Pool) (*Resolver, error) {
	rows, err := pool.Query(ctx, "SELECT provincia FROM dim_provinces_it ORDER BY provincia")
	if err != nil {
		return nil, db.NewStorageError("query", "dim_provinces_it", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "resolve: scan province")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStorageError("query", "dim_provinces_it", err)
	}
	if len(names) == 0 {
		return nil, ErrEmptyDimension
	}

	corrections, err := DefaultCorrections()
	if err != nil {
		return nil, err
	}
	return New(names, corrections), nil
}

// Normalize trims, collapses inner whitespace and title-cases a raw name.
func (r *Resolver) Normalize(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return ""
	}
	return r.title.String(s)
}

// Resolve returns the canonical province for raw, or false when no province
// matches. The outcome is counted.
func (r *Resolver) Resolve(raw string) (string, bool) {
	m, seen := r.memo[raw]
	if !seen {
		m.name, m.ok = r.lookup(raw)
		r.memo[raw] = m
	}
	name, ok := m.name, m.ok
	if ok {
		r.matched++
		return name, true
	}
	r.unmatched[strings.TrimSpace(raw)]++
	return "", false
}

func (r *Resolver) lookup(raw string) (string, bool) {
	n := r.Normalize(raw)
	if n == "" {
		return "", false
	}

	candidates := []string{n}
	if corrected, ok := r.corrections[r.fold(n)]; ok {
		candidates = []string{corrected, n}
	}

	for _, c := range candidates {
		if _, ok := r.canonical[c]; ok {
			return c, true
		}
	}
	// Names differing only by case or accents.
	for _, c := range candidates {
		if name, ok := r.folded[r.fold(c)]; ok {
			return name, true
		}
	}
	return "", false
}

// Stats returns the match counters.
func (r *Resolver) Stats() Stats {
	var unmatched int64
	for _, n := range r.unmatched {
		unmatched += n
	}
	return Stats{Matched: r.matched, Unmatched: unmatched}
}

// Unmatched returns the unmatched raw names, most frequent first.
func (r *Resolver) Unmatched() []NameCount {
	out := make([]NameCount, 0, len(r.unmatched))
	for name, n := range r.unmatched {
		out = append(out, NameCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// fold lower-cases s and strips diacritics.
func (r *Resolver) fold(s string) string {
	out, _, err := transform.String(r.stripMarks, s)
	if err != nil {
		out = s
	}
	return r.caseFold.String(strings.Join(strings.Fields(out), " "))
}
