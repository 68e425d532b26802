package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"intakeflow/internal/fieldpath"
)

// Violation is one catalog schema problem, addressed by a document path.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// CatalogError carries every violation found in one validation pass. The
// validator is total: it never stops at the first problem, so a catalog
// author gets complete feedback from a single load attempt.
type CatalogError struct {
	Source     string
	Violations []Violation
}

func (e *CatalogError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = fmt.Sprintf("%s: %s", v.Path, v.Message)
	}
	return fmt.Sprintf("invalid rule catalog %s: %s", e.Source, strings.Join(msgs, "; "))
}

var (
	catalogMu    sync.Mutex
	catalogCache = map[string]*Catalog{}
	catalogGroup singleflight.Group
)

// Load reads, validates, and caches a catalog by resolved path. Concurrent
// loads of the same path are collapsed into one read.
func Load(path string) (*Catalog, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("rules: resolve catalog path %q: %w", path, err)
	}

	catalogMu.Lock()
	if cat, ok := catalogCache[abs]; ok {
		catalogMu.Unlock()
		return cat, nil
	}
	catalogMu.Unlock()

	v, err, _ := catalogGroup.Do(abs, func() (interface{}, error) {
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("rules: read catalog %q: %w", abs, err)
		}
		cat, err := Parse(data, abs)
		if err != nil {
			return nil, err
		}
		catalogMu.Lock()
		catalogCache[abs] = cat
		catalogMu.Unlock()
		return cat, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Catalog), nil
}

// Invalidate drops a cached catalog so the next Load re-reads the file.
func Invalidate(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	catalogMu.Lock()
	delete(catalogCache, abs)
	catalogMu.Unlock()
}

// Parse validates a catalog document and decodes it. Validation runs over the
// raw JSON structure so unknown keys are caught; the typed decode happens only
// after the document is known to be clean.
func Parse(data []byte, source string) (*Catalog, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &CatalogError{Source: source, Violations: []Violation{
			{Path: "$", Message: fmt.Sprintf("not a JSON object: %v", err)},
		}}
	}

	violations := validateCatalogDoc(raw)
	if len(violations) > 0 {
		return nil, &CatalogError{Source: source, Violations: violations}
	}

	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("rules: decode catalog %s: %w", source, err)
	}
	return &cat, nil
}

var catalogKeys = keySet("ruleset_version", "rules")
var ruleKeys = keySet("rule_id", "severity", "applies_when", "field_paths", "message_template", "evidence_strategy")
var conditionKeys = keySet("path", "exists", "equals", "gt", "gte", "lt", "lte")

var strategyKeys = map[StrategyType]map[string]bool{
	StrategyMissingOrNull:  keySet("type", "paths"),
	StrategyCSVLookup:      keySet("type", "path"),
	StrategyEnumMembership: keySet("type", "path", "allowed"),
	StrategyTypeCheck:      keySet("type", "path", "expected"),
	StrategyDateOrder:      keySet("type", "left_path", "right_path", "operator"),
}

var typeCheckExpected = keySet("number", "boolean", "date")
var dateOrderOperators = keySet("<", "<=", ">", ">=")

func keySet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

func validateCatalogDoc(raw map[string]interface{}) []Violation {
	var out []Violation
	add := func(path, format string, args ...interface{}) {
		out = append(out, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	for _, key := range sortedKeys(raw) {
		if !catalogKeys[key] {
			add("$."+key, "unknown key")
		}
	}

	version, ok := raw["ruleset_version"].(string)
	if !ok || version == "" {
		add("$.ruleset_version", "required non-empty string")
	}

	rulesRaw, present := raw["rules"]
	if !present {
		add("$.rules", "required array")
		return out
	}
	ruleList, ok := rulesRaw.([]interface{})
	if !ok {
		add("$.rules", "must be an array")
		return out
	}

	seen := map[string]bool{}
	for i, entry := range ruleList {
		base := fmt.Sprintf("$.rules[%d]", i)
		ruleObj, ok := entry.(map[string]interface{})
		if !ok {
			add(base, "must be an object")
			continue
		}
		out = append(out, validateRuleDoc(base, ruleObj, seen)...)
	}
	return out
}

func validateRuleDoc(base string, ruleObj map[string]interface{}, seen map[string]bool) []Violation {
	var out []Violation
	add := func(path, format string, args ...interface{}) {
		out = append(out, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	for _, key := range sortedKeys(ruleObj) {
		if !ruleKeys[key] {
			add(base+"."+key, "unknown key")
		}
	}

	id, _ := ruleObj["rule_id"].(string)
	if id == "" {
		add(base+".rule_id", "required non-empty string")
	} else if seen[id] {
		add(base+".rule_id", "duplicate rule_id %q", id)
	} else {
		seen[id] = true
	}

	sev, _ := ruleObj["severity"].(string)
	if sev != string(SeverityBlock) && sev != string(SeverityWarning) {
		add(base+".severity", "must be %q or %q", SeverityBlock, SeverityWarning)
	}

	if _, ok := ruleObj["message_template"].(string); !ok {
		add(base+".message_template", "required string")
	}

	if cw, present := ruleObj["applies_when"]; present {
		conds, ok := cw.([]interface{})
		if !ok {
			add(base+".applies_when", "must be an array")
		} else {
			for j, c := range conds {
				out = append(out, validateConditionDoc(fmt.Sprintf("%s.applies_when[%d]", base, j), c)...)
			}
		}
	}

	if fp, present := ruleObj["field_paths"]; present {
		paths, ok := fp.([]interface{})
		if !ok {
			add(base+".field_paths", "must be an array of strings")
		} else {
			for j, p := range paths {
				if _, ok := p.(string); !ok {
					add(fmt.Sprintf("%s.field_paths[%d]", base, j), "must be a string")
				}
			}
		}
	}

	strat, present := ruleObj["evidence_strategy"]
	if !present {
		add(base+".evidence_strategy", "required object")
		return out
	}
	stratObj, ok := strat.(map[string]interface{})
	if !ok {
		add(base+".evidence_strategy", "must be an object")
		return out
	}
	out = append(out, validateStrategyDoc(base+".evidence_strategy", stratObj)...)
	return out
}

func validateConditionDoc(base string, entry interface{}) []Violation {
	var out []Violation
	add := func(path, format string, args ...interface{}) {
		out = append(out, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	cond, ok := entry.(map[string]interface{})
	if !ok {
		add(base, "must be an object")
		return out
	}
	for _, key := range sortedKeys(cond) {
		if !conditionKeys[key] {
			add(base+"."+key, "unknown key")
		}
	}

	path, _ := cond["path"].(string)
	if path == "" {
		add(base+".path", "required non-empty string")
	} else if _, err := fieldpath.Parse(path); err != nil {
		add(base+".path", "invalid field path: %v", err)
	}

	predicates := 0
	if _, present := cond["exists"]; present {
		if _, ok := cond["exists"].(bool); !ok {
			add(base+".exists", "must be a boolean")
		}
		predicates++
	}
	if _, present := cond["equals"]; present {
		predicates++
	}
	for _, op := range []string{"gt", "gte", "lt", "lte"} {
		if v, present := cond[op]; present {
			if _, ok := v.(float64); !ok {
				add(base+"."+op, "must be a number")
			}
			predicates++
		}
	}
	if predicates == 0 {
		add(base, "condition needs at least one of exists, equals, or a numeric comparator")
	}
	return out
}

func validateStrategyDoc(base string, strat map[string]interface{}) []Violation {
	var out []Violation
	add := func(path, format string, args ...interface{}) {
		out = append(out, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	typeName, _ := strat["type"].(string)
	allowedKeys, known := strategyKeys[StrategyType(typeName)]
	if !known {
		add(base+".type", "unknown strategy type %q", typeName)
		return out
	}
	for _, key := range sortedKeys(strat) {
		if !allowedKeys[key] {
			add(base+"."+key, "key not allowed for strategy %q", typeName)
		}
	}

	requirePath := func(key string) {
		p, _ := strat[key].(string)
		if p == "" {
			add(base+"."+key, "required non-empty string")
			return
		}
		if _, err := fieldpath.Parse(p); err != nil {
			add(base+"."+key, "invalid field path: %v", err)
		}
	}

	switch StrategyType(typeName) {
	case StrategyMissingOrNull:
		paths, ok := strat["paths"].([]interface{})
		if !ok || len(paths) == 0 {
			add(base+".paths", "required non-empty array of field paths")
			break
		}
		for i, p := range paths {
			s, ok := p.(string)
			if !ok {
				add(fmt.Sprintf("%s.paths[%d]", base, i), "must be a string")
				continue
			}
			if _, err := fieldpath.Parse(s); err != nil {
				add(fmt.Sprintf("%s.paths[%d]", base, i), "invalid field path: %v", err)
			}
		}
	case StrategyCSVLookup:
		requirePath("path")
	case StrategyEnumMembership:
		requirePath("path")
		allowed, ok := strat["allowed"].([]interface{})
		if !ok || len(allowed) == 0 {
			add(base+".allowed", "required non-empty array of strings")
			break
		}
		for i, a := range allowed {
			if _, ok := a.(string); !ok {
				add(fmt.Sprintf("%s.allowed[%d]", base, i), "must be a string")
			}
		}
	case StrategyTypeCheck:
		requirePath("path")
		expected, _ := strat["expected"].(string)
		if !typeCheckExpected[expected] {
			add(base+".expected", "must be one of number, boolean, date")
		}
	case StrategyDateOrder:
		requirePath("left_path")
		requirePath("right_path")
		op, _ := strat["operator"].(string)
		if !dateOrderOperators[op] {
			add(base+".operator", "must be one of <, <=, >, >=")
		}
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
