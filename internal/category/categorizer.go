// Package category assigns a single category tag to incoming observations
// using deterministic keyword, type, and file-path scoring.
package category

import (
	"regexp"
	"strings"
)

// Category names form a closed set; General is the fallback.
const (
	Security    = "security"
	Testing     = "testing"
	Debugging   = "debugging"
	Architecture = "architecture"
	Refactoring = "refactoring"
	Config      = "config"
	Docs        = "docs"
	FeatureDev  = "feature-dev"
	General     = "general"
)

// Input carries the observation fields the categorizer inspects.
type Input struct {
	Type          string
	Title         string
	Text          string
	Narrative     string
	Concepts      string
	FilesModified []string
	FilesRead     []string
}

// rule is one weighted category bundle. A category scores
// weight per keyword present, twice the weight on a type match, and
// weight per path pattern that matches any file.
type rule struct {
	category string
	keywords []string
	types    []string
	paths    []*regexp.Regexp
	weight   int
}

// rules are ordered by priority; ties in score resolve to the earlier rule.
var rules = []rule{
	{
		category: Security,
		keywords: []string{"vulnerability", "exploit", "cve-", "injection", "xss", "csrf", "sanitize", "redact", "secret", "credential", "authn", "authz", "encryption", "tls"},
		types:    []string{"constraint"},
		paths:    compile(`(?i)(auth|security|crypto|secrets?)`, `(?i)\.pem$`),
		weight:   3,
	},
	{
		category: Testing,
		keywords: []string{"test", "spec", "assertion", "mock", "fixture", "coverage", "flaky", "regression test"},
		types:    nil,
		paths:    compile(`_test\.go$`, `(?i)\.(spec|test)\.[jt]sx?$`, `(?i)/tests?/`, `(?i)/fixtures/`),
		weight:   2,
	},
	{
		category: Debugging,
		keywords: []string{"bug", "crash", "panic", "stack trace", "traceback", "segfault", "race condition", "deadlock", "reproduce", "root cause", "fix ", "fixed", "fails with"},
		types:    []string{"command"},
		paths:    nil,
		weight:   2,
	},
	{
		category: Architecture,
		keywords: []string{"architecture", "design decision", "boundary", "interface", "module layout", "dependency graph", "schema design", "data model", "tradeoff", "trade-off"},
		types:    []string{"decision", "rejected"},
		paths:    compile(`(?i)(adr|rfc|design)s?/`),
		weight:   2,
	},
	{
		category: Refactoring,
		keywords: []string{"refactor", "rename", "extract", "inline", "cleanup", "dead code", "simplify", "deduplicate", "restructure"},
		types:    nil,
		paths:    nil,
		weight:   2,
	},
	{
		category: Config,
		keywords: []string{"config", "environment variable", "env var", "settings", "flag", "toggle", "dotenv", "pragma"},
		types:    nil,
		paths:    compile(`(?i)\.(ya?ml|toml|ini|env|conf)$`, `(?i)(settings|config)[^/]*\.json$`, `(?i)dockerfile`, `(?i)makefile`),
		weight:   1,
	},
	{
		category: Docs,
		keywords: []string{"readme", "documentation", "docstring", "changelog", "tutorial", "guide"},
		types:    nil,
		paths:    compile(`(?i)\.(md|rst|adoc)$`, `(?i)/docs?/`),
		weight:   1,
	},
	{
		category: FeatureDev,
		keywords: []string{"implement", "feature", "endpoint", "handler", "new command", "add support", "wire up", "scaffold"},
		types:    []string{"file-write", "delegation"},
		paths:    nil,
		weight:   1,
	},
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Categorize scores every rule against the input and returns the category
// with the strictly greatest positive score, or General when nothing scores.
// Deterministic and total: same input, same output, never an error.
func Categorize(in Input) string {
	haystack := strings.ToLower(strings.Join([]string{
		in.Title, in.Text, in.Narrative, in.Concepts,
	}, "\n"))

	files := make([]string, 0, len(in.FilesModified)+len(in.FilesRead))
	files = append(files, in.FilesModified...)
	files = append(files, in.FilesRead...)

	best := General
	bestScore := 0

	for _, r := range rules {
		score := 0
		for _, kw := range r.keywords {
			if strings.Contains(haystack, kw) {
				score += r.weight
			}
		}
		for _, t := range r.types {
			if in.Type == t {
				score += 2 * r.weight
				break
			}
		}
		for _, p := range r.paths {
			for _, f := range files {
				if p.MatchString(f) {
					score += r.weight
					break
				}
			}
		}
		// Strict comparison keeps the earlier rule on ties.
		if score > bestScore {
			bestScore = score
			best = r.category
		}
	}
	return best
}

// Categories returns the closed category set, priority order first,
// General last.
func Categories() []string {
	out := make([]string, 0, len(rules)+1)
	for _, r := range rules {
		out = append(out, r.category)
	}
	return append(out, General)
}
