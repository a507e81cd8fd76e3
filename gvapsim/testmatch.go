package gvapsim

import (
	"regexp"
	"strings"
)

// testMatcher selects scenarios and assertions. Patterns have the form
// "scenario/assertion"; a slash inside either part must be escaped as `\/`.
type testMatcher struct {
	scenario  *regexp.Regexp
	assertion *regexp.Regexp
	pattern   string
}

func parseTestPattern(p string) (m testMatcher, err error) {
	if p == "" {
		return m, nil
	}
	parts := splitRegexp(p)
	m.scenario, err = regexp.Compile("(?i:" + parts[0] + ")")
	if err != nil {
		return m, err
	}
	if len(parts) > 1 {
		m.assertion, err = regexp.Compile("(?i:" + strings.Join(parts[1:], "/") + ")")
		if err != nil {
			return m, err
		}
	}
	m.pattern = p
	return m, nil
}

// match checks whether the pattern matches scenario label and assertion name.
// An empty assertion name matches any assertion.
func (m *testMatcher) match(scenario, assertion string) bool {
	if m.scenario != nil && !m.scenario.MatchString(scenario) {
		return false
	}
	if assertion != "" && m.assertion != nil && !m.assertion.MatchString(assertion) {
		return false
	}
	return true
}

// splitRegexp splits the expression s into /-separated parts.
//
// This is borrowed from package testing.
func splitRegexp(s string) []string {
	a := make([]string, 0, strings.Count(s, "/"))
	cs := 0
	cp := 0
	for i := 0; i < len(s); {
		switch s[i] {
		case '[':
			cs++
		case ']':
			if cs--; cs < 0 { // An unmatched ']' is legal.
				cs = 0
			}
		case '(':
			if cs == 0 {
				cp++
			}
		case ')':
			if cs == 0 {
				cp--
			}
		case '\\':
			i++
		case '/':
			if cs == 0 && cp == 0 {
				a = append(a, s[:i])
				s = s[i+1:]
				i = 0
				continue
			}
		}
		i++
	}
	return append(a, s)
}
