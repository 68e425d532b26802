// Package counties loads the canonical county reference table used by
// csv_lookup rules and by the AI county-mention scan. The default Georgia
// table is baked into the binary with go:embed; external tables can be loaded
// from disk and are cached by resolved path.
package counties

import (
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

//go:embed data/ga_counties.csv
var embeddedData embed.FS

// MatchStrategy identifies which index satisfied a lookup.
type MatchStrategy string

const (
	MatchSlug        MatchStrategy = "slug"
	MatchNameExact   MatchStrategy = "name_exact"
	MatchNameTrimmed MatchStrategy = "name_trimmed"
)

// County is one canonical reference row.
type County struct {
	Name        string
	DisplayName string
	Slug        string
	Code        string
}

// Match is the outcome of a successful lookup.
type Match struct {
	County   County
	Strategy MatchStrategy
}

// Table indexes county rows by slug, exact name, and whitespace-normalized
// name. Immutable after construction.
type Table struct {
	source  string
	rows    []County
	bySlug  map[string]County
	byName  map[string]County
	byNorm  map[string]County
}

var (
	embeddedOnce  sync.Once
	embeddedTable *Table
	embeddedErr   error

	cacheMu   sync.Mutex
	pathCache = map[string]*Table{}
)

// Default returns the embedded Georgia county table, parsed once.
func Default() (*Table, error) {
	embeddedOnce.Do(func() {
		f, err := embeddedData.Open("data/ga_counties.csv")
		if err != nil {
			embeddedErr = fmt.Errorf("counties: open embedded table: %w", err)
			return
		}
		defer f.Close()
		embeddedTable, embeddedErr = parse(f, "embedded:ga_counties")
	})
	return embeddedTable, embeddedErr
}

// LoadFile parses a county CSV from disk. Repeated loads of the same resolved
// path return the cached table.
func LoadFile(path string) (*Table, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("counties: resolve %q: %w", path, err)
	}

	cacheMu.Lock()
	if tbl, ok := pathCache[abs]; ok {
		cacheMu.Unlock()
		return tbl, nil
	}
	cacheMu.Unlock()

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("counties: open %q: %w", abs, err)
	}
	defer f.Close()

	tbl, err := parse(f, abs)
	if err != nil {
		return nil, err
	}

	cacheMu.Lock()
	pathCache[abs] = tbl
	cacheMu.Unlock()
	return tbl, nil
}

func parse(r io.Reader, source string) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("counties: parse %s: %w", source, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("counties: %s has no data rows", source)
	}

	tbl := &Table{
		source: source,
		bySlug: make(map[string]County),
		byName: make(map[string]County),
		byNorm: make(map[string]County),
	}

	for i, rec := range records[1:] {
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		c := County{Name: strings.TrimSpace(rec[0])}
		if len(rec) > 1 {
			c.DisplayName = strings.TrimSpace(rec[1])
		}
		if len(rec) > 2 {
			c.Slug = strings.TrimSpace(rec[2])
		}
		if len(rec) > 3 {
			c.Code = strings.TrimSpace(rec[3])
		}
		if c.Slug == "" {
			c.Slug = Slugify(c.Name)
		}
		if _, dup := tbl.bySlug[c.Slug]; dup {
			return nil, fmt.Errorf("counties: %s row %d: duplicate slug %q", source, i+2, c.Slug)
		}
		tbl.rows = append(tbl.rows, c)
		tbl.bySlug[c.Slug] = c
		tbl.byName[c.Name] = c
		tbl.byNorm[normalizeName(c.Name)] = c
	}

	return tbl, nil
}

// Lookup resolves a raw value against the table. Strategies are tried in
// order: exact slug, exact name, whitespace-normalized name. First hit wins.
func (t *Table) Lookup(raw string) (Match, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Match{}, false
	}
	if c, ok := t.bySlug[value]; ok {
		return Match{County: c, Strategy: MatchSlug}, true
	}
	if c, ok := t.byName[value]; ok {
		return Match{County: c, Strategy: MatchNameExact}, true
	}
	if c, ok := t.byNorm[normalizeName(value)]; ok {
		return Match{County: c, Strategy: MatchNameTrimmed}, true
	}
	return Match{}, false
}

// Source identifies where this table was loaded from.
func (t *Table) Source() string { return t.source }

// Names returns every canonical county name in table order.
func (t *Table) Names() []string {
	names := make([]string, len(t.rows))
	for i, c := range t.rows {
		names[i] = c.Name
	}
	return names
}

// Len reports the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Slugify lowercases and collapses a name into its slug form.
func Slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// normalizeName collapses runs of whitespace and lowercases for forgiving
// name comparison ("Ben  Hill" matches "Ben Hill").
func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
