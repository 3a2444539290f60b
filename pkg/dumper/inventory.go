package dumper

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// Matcher tests object names against a list of literal names and
// /pattern/flags regular expressions.
type Matcher struct {
	literals map[string]struct{}
	patterns []*regexp.Regexp
}

// NewMatcher compiles entries. An entry starting with '/' is a pattern;
// the supported trailing flags are i, m, s and u.
func NewMatcher(entries []string) (*Matcher, error) {
	m := &Matcher{literals: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		if !strings.HasPrefix(e, "/") {
			m.literals[e] = struct{}{}
			continue
		}
		re, err := compilePattern(e)
		if err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

func compilePattern(entry string) (*regexp.Regexp, error) {
	end := strings.LastIndex(entry, "/")
	if end <= 0 {
		return nil, fmt.Errorf("invalid pattern %q: missing closing delimiter", entry)
	}
	body, flags := entry[1:end], entry[end+1:]

	var prefix strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			prefix.WriteRune(f)
		case 'u':
		default:
			return nil, fmt.Errorf("invalid pattern %q: unsupported flag %q", entry, f)
		}
	}
	if prefix.Len() > 0 {
		body = "(?" + prefix.String() + ")" + body
	}
	re, err := regexp.Compile(body)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", entry, err)
	}
	return re, nil
}

// Match reports whether name equals a literal or matches a pattern.
func (m *Matcher) Match(name string) bool {
	if m == nil {
		return false
	}
	if _, ok := m.literals[name]; ok {
		return true
	}
	for _, re := range m.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Empty reports whether the matcher has no entries.
func (m *Matcher) Empty() bool {
	return m == nil || (len(m.literals) == 0 && len(m.patterns) == 0)
}

// Literals returns the literal entries, sorted.
func (m *Matcher) Literals() []string {
	if m == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(m.literals))
}

// Inventory lists the objects selected for a dump, in discovery order.
type Inventory struct {
	Tables     []string
	Views      []string
	Triggers   []string
	Procedures []string
	Functions  []string
	Events     []string
}
