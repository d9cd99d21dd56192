// Package rules rewrites finished transcripts with user-defined substitutions.
//
// A rules file holds one rule per line. Blank lines and lines starting with
// '#' are skipped. Two forms are understood:
//
//	open ai => OpenAI          literal, case-insensitive, whole match
//	s/\bgo\s+lang\b/Go/g       sed-style regular expression with flags
//
// Rules run in file order, and the whole set is re-applied until the text
// stops changing or MaxPasses is reached.
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// DefaultMaxPasses bounds how many times the rule set is re-applied.
const DefaultMaxPasses = 30

// ErrNoFixedPoint is returned when the rules keep changing the text after
// MaxPasses passes. The partially rewritten text is returned with it.
var ErrNoFixedPoint = errors.New("rules did not settle")

type rule interface {
	rewrite(input string) string
}

// Filter is a compiled rule set.
type Filter struct {
	rules     []rule
	maxPasses int
}

// Load reads and compiles a rules file. An empty path or a missing file
// yields a Filter that leaves text unchanged.
func Load(path string, maxPasses int) (*Filter, error) {
	if strings.TrimSpace(path) == "" {
		return Parse("", maxPasses)
	}
	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Parse("", maxPasses)
	}
	if err != nil {
		return nil, fmt.Errorf("read rules file %q: %w", path, err)
	}
	filter, err := Parse(string(contents), maxPasses)
	if err != nil {
		return nil, fmt.Errorf("rules file %q: %w", path, err)
	}
	return filter, nil
}

// Parse compiles rules from their textual form.
func Parse(contents string, maxPasses int) (*Filter, error) {
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}
	f := &Filter{maxPasses: maxPasses}
	for n, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := compile(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		f.rules = append(f.rules, r)
	}
	return f, nil
}

// Len reports how many rules were compiled.
func (f *Filter) Len() int { return len(f.rules) }

// Apply rewrites text until it is stable.
func (f *Filter) Apply(text string) (string, error) {
	if len(f.rules) == 0 {
		return text, nil
	}
	current := text
	for pass := 0; pass < f.maxPasses; pass++ {
		next := current
		for _, r := range f.rules {
			next = r.rewrite(next)
		}
		if next == current {
			return current, nil
		}
		current = next
	}
	return current, fmt.Errorf("%w after %d passes", ErrNoFixedPoint, f.maxPasses)
}

func compile(line string) (rule, error) {
	if isSubstitution(line) {
		return compileSubstitution(line)
	}
	if from, to, ok := strings.Cut(line, "=>"); ok {
		return compileLiteral(strings.TrimSpace(from), strings.TrimSpace(to))
	}
	return nil, fmt.Errorf("unrecognised rule %q", line)
}

type literal struct {
	re *regexp.Regexp
	to string
}

func compileLiteral(from string, to string) (rule, error) {
	if from == "" {
		return nil, errors.New("literal rule has no source text")
	}
	return literal{re: regexp.MustCompile("(?i)" + regexp.QuoteMeta(from)), to: to}, nil
}

func (l literal) rewrite(input string) string {
	return l.re.ReplaceAllLiteralString(input, l.to)
}

type substitution struct {
	re     *regexp.Regexp
	to     string
	global bool
}

// isSubstitution matches "s" followed by a punctuation delimiter, so that a
// literal like "so => So" is not mistaken for an expression.
func isSubstitution(line string) bool {
	return len(line) > 2 && line[0] == 's' && isDelimiter(line[1])
}

func isDelimiter(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c == ' ', c == '\t', c == '\\':
		return false
	}
	return c < 0x80
}

func compileSubstitution(line string) (rule, error) {
	delim := line[1]
	fields, rest, err := splitDelimited(line[2:], delim, 2)
	if err != nil {
		return nil, err
	}

	// Matching is case-insensitive unless the I flag asks otherwise.
	prefix := map[rune]bool{'i': true}
	global := false
	for _, flag := range strings.TrimSpace(rest) {
		switch flag {
		case 'g':
			global = true
		case 'i':
			prefix['i'] = true
		case 'I':
			prefix['i'] = false
		case 'm', 's':
			prefix[flag] = true
		default:
			return nil, fmt.Errorf("unknown flag %q", flag)
		}
	}

	var inline strings.Builder
	for _, flag := range []rune{'i', 'm', 's'} {
		if prefix[flag] {
			inline.WriteRune(flag)
		}
	}
	pattern := fields[0]
	if inline.Len() > 0 {
		pattern = "(?" + inline.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", fields[0], err)
	}
	return substitution{re: re, to: fields[1], global: global}, nil
}

func (s substitution) rewrite(input string) string {
	if s.global {
		return s.re.ReplaceAllString(input, s.to)
	}
	loc := s.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input
	}
	expanded := s.re.ExpandString(nil, s.to, input, loc)
	return input[:loc[0]] + string(expanded) + input[loc[1]:]
}

// splitDelimited reads n fields terminated by delim. A backslash before the
// delimiter escapes it; other escapes are kept for the regexp compiler.
func splitDelimited(input string, delim byte, n int) ([]string, string, error) {
	fields := make([]string, 0, n)
	var field strings.Builder
	for i := 0; i < len(input); i++ {
		c := input[i]
		if c == '\\' && i+1 < len(input) {
			if input[i+1] == delim {
				field.WriteByte(delim)
			} else {
				field.WriteByte(c)
				field.WriteByte(input[i+1])
			}
			i++
			continue
		}
		if c != delim {
			field.WriteByte(c)
			continue
		}
		fields = append(fields, field.String())
		field.Reset()
		if len(fields) == n {
			return fields, input[i+1:], nil
		}
	}
	return nil, "", errors.New("unterminated expression")
}
