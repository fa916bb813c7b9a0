package tools

import (
	"fmt"
	"regexp"
	"strings"
)

const maxValidatedCodeLen = 5000

// denylistedImports blocks modules that grant filesystem, process, or
// network escape hatches from inside the sandbox (spec.md §4.4.2).
var denylistedImports = map[string]bool{
	"os":         true,
	"subprocess": true,
	"sys":        true,
	"socket":     true,
	"shutil":     true,
}

// allowlistedImports is informational only: it is not used to block
// anything not already denylisted, since spec.md's grammar otherwise
// allows unknown imports through — only the denylist is enforced blocking.
var allowlistedImports = map[string]bool{
	"math": true, "json": true, "random": true, "datetime": true,
	"itertools": true, "functools": true, "re": true, "string": true, "hashlib": true,
}

// ValidationResult is the outcome of validating a code submission.
type ValidationResult struct {
	Blocked  bool
	Error    string   // set when Blocked; formatted as "Validation Error: ..."
	Warnings []string // non-blocking, prepended to execution output
}

// Validator implements the pre-execution code validator shared by
// CodeExecution and the Recursive-LM tool (spec.md §4.4.2). It is
// intentionally simple pattern-matching rather than a full Python parser —
// the sandbox Python runtime is the real parser; this validator's job is to
// reject obviously dangerous submissions before they ever reach it.
type Validator struct{}

// NewValidator returns a ready-to-use Validator.
func NewValidator() *Validator { return &Validator{} }

var importLine = regexp.MustCompile(`(?m)^\s*(?:import|from)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)
var defLine = regexp.MustCompile(`(?m)^\s*(?:def|class)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
var printCall = regexp.MustCompile(`\bprint\s*\(`)

// Validate runs the four checks from spec.md §4.4.2 in order: length cap,
// syntax, import denylist, and the function/print heuristics.
func (v *Validator) Validate(code string) ValidationResult {
	if strings.TrimSpace(code) == "" {
		return ValidationResult{Blocked: true, Error: "Validation Error: empty submission"}
	}
	if len(code) > maxValidatedCodeLen {
		return ValidationResult{Blocked: true, Error: fmt.Sprintf("Validation Error: submission exceeds %d characters", maxValidatedCodeLen)}
	}
	if line, detail, ok := syntaxIssue(code); ok {
		return ValidationResult{Blocked: true, Error: fmt.Sprintf("Validation Error: Syntax error — line %d: %s", line, detail)}
	}

	for _, m := range importLine.FindAllStringSubmatch(code, -1) {
		root := strings.Split(m[1], ".")[0]
		if denylistedImports[root] {
			return ValidationResult{Blocked: true, Error: fmt.Sprintf("Validation Error: import of %q is not permitted", root)}
		}
	}
	if strings.Contains(code, "open(") && strings.Contains(code, "pathlib") {
		return ValidationResult{Blocked: true, Error: "Validation Error: pathlib-based file access is not permitted"}
	}

	var warnings []string
	for _, m := range defLine.FindAllStringSubmatch(code, -1) {
		name := m[1]
		callPattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\s*\(`)
		if len(callPattern.FindAllStringIndex(code, -1)) <= 1 {
			warnings = append(warnings, fmt.Sprintf("%q is defined but never called", name))
		}
	}
	if !printCall.MatchString(code) && looksLikeCalculation(code) {
		warnings = append(warnings, "no print output detected")
	}

	return ValidationResult{Warnings: warnings}
}

// looksLikeCalculation is a loose heuristic: an arithmetic operator between
// two digits anywhere in the code (def/class bodies included) suggests the
// snippet computes something worth reporting.
func looksLikeCalculation(code string) bool {
	return regexp.MustCompile(`[0-9]\s*[+\-*/]\s*[0-9]`).MatchString(code)
}

// syntaxIssue attempts a best-effort parse. Submissions are nominally
// Python, so it does not use Go's parser for acceptance — only to catch the
// subset of gross imbalance errors (mismatched brackets/quotes) that are
// language-agnostic enough to flag before reaching the sandbox.
func syntaxIssue(code string) (line int, detail string, found bool) {
	if n := strings.Count(code, "("); n != strings.Count(code, ")") {
		return lineOfFirstImbalance(code, '(', ')'), "unbalanced parentheses", true
	}
	if n := strings.Count(code, "["); n != strings.Count(code, "]") {
		return lineOfFirstImbalance(code, '[', ']'), "unbalanced brackets", true
	}
	if n := strings.Count(code, "{"); n != strings.Count(code, "}") {
		return lineOfFirstImbalance(code, '{', '}'), "unbalanced braces", true
	}
	if strings.Count(code, `"`)%2 != 0 {
		return 1, "unbalanced double quotes", true
	}
	if strings.Count(code, "'")%2 != 0 {
		return 1, "unbalanced single quotes", true
	}
	return 0, "", false
}

func lineOfFirstImbalance(code string, open, close rune) int {
	depth := 0
	line := 1
	for _, r := range code {
		switch r {
		case '\n':
			line++
		case open:
			depth++
		case close:
			depth--
		}
		if depth < 0 {
			return line
		}
	}
	return line
}
