package cache

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/gobwas/glob"
)

// globMeta lists the characters that give a pattern glob semantics.
const globMeta = `*?[]{}\`

// Pattern matches cache keys against a glob expression. `*` matches any run
// of characters (colons included), `?` a single character, `[...]` a
// character class (`[!...]` negated) and `{a,b}` either alternative.
type Pattern struct {
	raw string
	g   glob.Glob
}

// CompilePattern parses raw into a Pattern.
func CompilePattern(raw string) (Pattern, error) {
	g, err := glob.Compile(raw)
	if err != nil {
		return Pattern{}, fmt.Errorf("cache: invalid pattern %q: %w", raw, err)
	}
	return Pattern{raw: raw, g: g}, nil
}

// Match reports whether key is matched by the pattern.
func (p Pattern) Match(key string) bool {
	if p.g == nil {
		return false
	}
	return p.g.Match(key)
}

// String returns the source expression.
func (p Pattern) String() string { return p.raw }

// Prefix returns the literal text before the first glob metacharacter.
// Every key the pattern matches starts with it.
func (p Pattern) Prefix() string {
	if i := strings.IndexAny(p.raw, globMeta); i >= 0 {
		return p.raw[:i]
	}
	return p.raw
}

// Namespace returns the literal namespace shared by every key the pattern
// can match. ok is false when the first segment contains glob syntax.
func (p Pattern) Namespace() (ns string, ok bool) {
	ns = Namespace(p.raw)
	if strings.ContainsAny(ns, globMeta) {
		return "", false
	}
	return ns, true
}

// Patterns memoizes compiled patterns. Invalidation paths tend to repeat the
// same handful of expressions, so each is parsed once.
type Patterns struct {
	rc *ristretto.Cache[string, Pattern]
}

// NewPatterns creates a pattern memo holding up to maxEntries expressions.
func NewPatterns(maxEntries int64) (*Patterns, error) {
	rc, err := ristretto.NewCache(&ristretto.Config[string, Pattern]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Patterns{rc: rc}, nil
}

// Compile returns the compiled form of raw, parsing it on first use.
func (ps *Patterns) Compile(raw string) (Pattern, error) {
	if p, ok := ps.rc.Get(raw); ok {
		return p, nil
	}
	p, err := CompilePattern(raw)
	if err != nil {
		return Pattern{}, err
	}
	ps.rc.Set(raw, p, 1)
	return p, nil
}

// Close releases the memo's background goroutines.
func (ps *Patterns) Close() {
	ps.rc.Close()
}
