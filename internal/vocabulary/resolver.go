package vocabulary

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/propsync-io/propsync/internal/canonicalization"
)

type (
	compiledPattern struct {
		regex     *regexp.Regexp
		canonical string
	}

	compiledTable struct {
		aliases  map[string]string
		patterns []compiledPattern
	}

	// Resolver normalizes raw report values against the canonical vocabularies.
	// Immutable after construction and safe for concurrent use.
	//
	// Lookup order per table: configured aliases, built-in aliases, configured patterns,
	// built-in patterns. First match wins.
	Resolver struct {
		tables map[Table]*compiledTable
	}
)

// variableRegex matches {name} or {name*} in a pattern string.
var variableRegex = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\*?\}`)

// compilePattern converts a pattern over normalized keys to an anchored regex.
//
// Pattern: "vacant_{rest*}" → Regex: ^vacant_(?P<rest>.+)$.
// Pattern: "{kind}_ready"   → Regex: ^(?P<kind>[^_]+)_ready$.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	result := regexp.QuoteMeta(pattern)

	for _, match := range variableRegex.FindAllStringSubmatch(pattern, -1) {
		fullMatch, varName := match[0], match[1]

		captureGroup := "(?P<" + varName + ">[^_]+)"
		if strings.HasSuffix(fullMatch, "*}") {
			captureGroup = "(?P<" + varName + ">.+)"
		}

		result = strings.Replace(result, regexp.QuoteMeta(fullMatch), captureGroup, 1)
	}

	return regexp.Compile("^" + result + "$")
}

// NewResolver builds a resolver from the built-in tables plus config overrides.
//
// Invalid override patterns and entries with an empty canonical value are skipped with a
// warning. A nil config yields the built-in vocabulary.
func NewResolver(cfg *Config) *Resolver {
	r := &Resolver{tables: make(map[Table]*compiledTable, len(builtinAliases))}

	for _, table := range Tables() {
		ct := &compiledTable{aliases: make(map[string]string)}

		var overrides TableConfig
		if cfg != nil {
			overrides = cfg.Tables[table]
		}

		for raw, canonical := range builtinAliases[table] {
			ct.aliases[raw] = canonical
		}

		for raw, canonical := range overrides.Aliases {
			key := canonicalization.NormalizeKey(raw)
			canonical = strings.TrimSpace(canonical)

			if key == "" || canonical == "" {
				slog.Warn("Skipping vocabulary alias with empty value",
					slog.String("table", string(table)),
					slog.String("alias", raw))

				continue
			}

			ct.aliases[key] = canonical
		}

		patterns := append(append([]PatternConfig{}, overrides.Patterns...), builtinPatterns[table]...)
		for _, p := range patterns {
			pattern := strings.TrimSpace(p.Pattern)
			canonical := strings.TrimSpace(p.Canonical)

			if pattern == "" || canonical == "" {
				slog.Warn("Skipping vocabulary pattern with empty pattern or canonical",
					slog.String("table", string(table)),
					slog.String("pattern", pattern))

				continue
			}

			regex, err := compilePattern(pattern)
			if err != nil {
				slog.Warn("Skipping vocabulary pattern with invalid regex",
					slog.String("table", string(table)),
					slog.String("pattern", pattern),
					slog.String("error", err.Error()))

				continue
			}

			ct.patterns = append(ct.patterns, compiledPattern{regex: regex, canonical: canonical})
		}

		r.tables[table] = ct
	}

	return r
}

// Normalize maps a raw value to its canonical form. It returns ("", false) when the value is
// empty or matches nothing in the table.
func (r *Resolver) Normalize(table Table, raw string) (string, bool) {
	if r == nil {
		return "", false
	}

	ct, ok := r.tables[table]
	if !ok {
		return "", false
	}

	key := canonicalization.NormalizeKey(raw)
	if key == "" {
		return "", false
	}

	if canonical, ok := ct.aliases[key]; ok {
		return canonical, true
	}

	for _, cp := range ct.patterns {
		if cp.regex.MatchString(key) {
			return cp.canonical, true
		}
	}

	return "", false
}

// NormalizeOr maps a raw value, returning fallback when it does not resolve.
func (r *Resolver) NormalizeOr(table Table, raw, fallback string) string {
	if canonical, ok := r.Normalize(table, raw); ok {
		return canonical
	}

	return fallback
}

// AliasCount returns the number of exact aliases for a table.
func (r *Resolver) AliasCount(table Table) int {
	if r == nil || r.tables[table] == nil {
		return 0
	}

	return len(r.tables[table].aliases)
}
