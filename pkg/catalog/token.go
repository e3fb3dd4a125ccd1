package catalog

import (
	"regexp"
	"strings"
)

// Reference token syntax: &<namespace>.<component>[:<alias>], e.g.
// "&alb.load_balancer" or "&alb.load_balancer:edge". The component part
// must match a catalog definition name; the alias selects a named
// instance within the same deployment unit.
var tokenPattern = regexp.MustCompile(`^&([a-z0-9_]+\.[a-z0-9_]+)(?::([A-Za-z0-9_.-]+))?$`)

// Token is a parsed reference token.
type Token struct {
	// Component is the referenced component definition name.
	Component string

	// Alias optionally names a specific instance of the component.
	Alias string
}

// String re-renders the token in its source form.
func (t Token) String() string {
	if t.Alias != "" {
		return "&" + t.Component + ":" + t.Alias
	}
	return "&" + t.Component
}

// IsReferenceToken reports whether the value is a reference token string.
func IsReferenceToken(v interface{}) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	return strings.HasPrefix(s, "&") && tokenPattern.MatchString(s)
}

// ParseToken parses a reference token. The second result is false when
// the string is not a well-formed token.
func ParseToken(s string) (Token, bool) {
	m := tokenPattern.FindStringSubmatch(s)
	if m == nil {
		return Token{}, false
	}
	return Token{Component: m[1], Alias: m[2]}, true
}
