package engine

import (
	"regexp"
	"strings"
)

// Matches checks one map name against one user wildcard pattern.
// Params: observed map name and user pattern where * spans any run.
// Returns: true when pattern covers the whole map name, case-insensitive.
func Matches(mapName, pattern string) bool {
	if mapName == "" || pattern == "" {
		return false
	}
	compiled, err := compileMapPattern(pattern)
	if err != nil {
		return containsFallback(mapName, pattern)
	}
	return compiled.MatchString(strings.ToLower(mapName))
}

// compileMapPattern converts a user wildcard into an anchored regexp.
// Params: raw user pattern; only * is a wildcard, the rest is literal.
// Returns: compiled full-string matcher or compile error.
func compileMapPattern(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(strings.ToLower(pattern))
	expr := strings.ReplaceAll(escaped, `\*`, ".*")
	return regexp.Compile("^" + expr + "$")
}

// containsFallback degrades a broken pattern to substring containment.
// Params: map name and pattern with wildcards stripped.
// Returns: true when the literal remainder occurs in the map name.
func containsFallback(mapName, pattern string) bool {
	literal := strings.ToLower(strings.ReplaceAll(pattern, "*", ""))
	if literal == "" {
		return true
	}
	return strings.Contains(strings.ToLower(mapName), literal)
}
