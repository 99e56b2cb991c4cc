package scanner

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dop251/goja/parser"
)

// Violation records a single forbidden construct found in submitted code.
type Violation struct {
	RuleID string `json:"rule_id"`
	Match  string `json:"match"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Decision is the scanner's verdict for one piece of submitted code. A
// single violation is sufficient to deny execution; all violations are
// collected so the reviewer sees complete diagnostics in one pass.
type Decision struct {
	Allowed    bool
	Violations []Violation
}

// Reason returns a reviewer-facing summary of the denial.
func (d Decision) Reason() string {
	if d.Allowed {
		return ""
	}
	parts := make([]string, len(d.Violations))
	for i, v := range d.Violations {
		parts[i] = fmt.Sprintf("%s: %q at line %d, column %d", v.RuleID, v.Match, v.Line, v.Column)
	}
	return "forbidden constructs: " + strings.Join(parts, "; ")
}

// RuleSyntax is reported when the submitted text does not parse at all.
const RuleSyntax = "syntax"

type rule struct {
	id      string
	pattern *regexp.Regexp
}

// The rule set is a lexical denylist: token-level matches on constructs that
// would bind new capabilities (imports), reach restricted internals (dunder
// names, constructor walking, reflection objects) or forge identifiers at
// runtime (computed access, char-code assembly). It is a best-effort first
// layer; the workbench's closed namespace is the property that must hold
// when a novel obfuscation slips past these rules.
var rules = []rule{
	{"import-binding", regexp.MustCompile(`\b(import|require|export)\b`)},
	{"dynamic-code", regexp.MustCompile(`\b(eval|Function|GeneratorFunction|AsyncFunction)\b`)},
	{"dunder-access", regexp.MustCompile(`__\w+`)},
	{"constructor-walk", regexp.MustCompile(`\bconstructor\b`)},
	{"reflection", regexp.MustCompile(`\b(Reflect|Proxy|globalThis)\b`)},
	{"host-object", regexp.MustCompile(`\b(process|global|window|fetch|XMLHttpRequest|WebAssembly|importScripts)\b`)},
	{"computed-access", regexp.MustCompile("\\w\\s*\\[\\s*[\"'`]")},
	{"string-forgery", regexp.MustCompile(`\b(fromCharCode|atob|btoa|unescape|decodeURIComponent)\b`)},
}

// Scanner inspects submitted source text before execution. It operates
// purely on the lexical form of the text and never executes anything.
type Scanner struct {
	rules []rule
}

// New returns a scanner with the default rule set.
func New() *Scanner {
	return &Scanner{rules: rules}
}

// Scan produces the policy decision for the given source text. It never
// fails: malformed input is reported as a syntax violation.
func (s *Scanner) Scan(source string) Decision {
	var violations []Violation

	if _, err := parser.ParseFile(nil, "transform.js", source, 0); err != nil {
		violations = append(violations, Violation{
			RuleID: RuleSyntax,
			Match:  firstLine(err.Error()),
			Line:   1,
			Column: 1,
		})
	}

	type located struct {
		offset int
		v      Violation
	}
	var found []located

	for _, r := range s.rules {
		for _, loc := range r.pattern.FindAllStringIndex(source, -1) {
			line, col := position(source, loc[0])
			found = append(found, located{
				offset: loc[0],
				v: Violation{
					RuleID: r.id,
					Match:  source[loc[0]:loc[1]],
					Line:   line,
					Column: col,
				},
			})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].offset < found[j].offset })
	for _, f := range found {
		violations = append(violations, f.v)
	}

	return Decision{
		Allowed:    len(violations) == 0,
		Violations: violations,
	}
}

// position converts a byte offset into 1-based line and column numbers.
func position(source string, offset int) (line, col int) {
	line, col = 1, 1
	for _, ch := range source[:offset] {
		if ch == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
