package tool

import "strings"

// Pattern is a parsed allowed-tools entry: either an exact tool name or a
// prefixed argument filter like `bash(git:*)`, permitted iff the tool is
// `bash` and its first token argument begins with `git`.
//
// Richer policies (regex, per-argument schemas) are a plausible future
// extension; this type intentionally keeps only the prefix-wildcard
// variant so such a variant can be added without breaking callers of
// Match.
type Pattern struct {
	ToolName     string
	ArgPrefix    string // empty for an exact-name pattern
	hasArgFilter bool
}

// ParsePattern parses one allowed-tools entry.
func ParsePattern(raw string) Pattern {
	open := strings.IndexByte(raw, '(')
	if open == -1 || !strings.HasSuffix(raw, ")") {
		return Pattern{ToolName: raw}
	}
	inner := raw[open+1 : len(raw)-1] // "git:*"
	colon := strings.IndexByte(inner, ':')
	if colon == -1 {
		return Pattern{ToolName: raw[:open]}
	}
	prefix := strings.TrimSuffix(inner[colon+1:], "*")
	return Pattern{
		ToolName:     raw[:open],
		ArgPrefix:    prefix,
		hasArgFilter: true,
	}
}

// Match reports whether this pattern permits invoking toolName with the
// given first positional argument token (empty if the tool has none, or
// for tools the pattern doesn't gate on arguments).
func (p Pattern) Match(toolName, firstArg string) bool {
	if p.ToolName != toolName {
		return false
	}
	if !p.hasArgFilter {
		return true
	}
	return strings.HasPrefix(firstArg, p.ArgPrefix)
}

// PatternSet is an allowed_tools list, parsed once and reused for every
// scope check in a skill's lifetime.
type PatternSet []Pattern

// ParsePatternSet parses every entry in an allowed-tools list.
func ParsePatternSet(raw []string) PatternSet {
	set := make(PatternSet, len(raw))
	for i, r := range raw {
		set[i] = ParsePattern(r)
	}
	return set
}

// Permits reports whether any pattern in the set permits toolName with the
// given first argument token.
func (s PatternSet) Permits(toolName, firstArg string) bool {
	for _, p := range s {
		if p.Match(toolName, firstArg) {
			return true
		}
	}
	return false
}

// FirstArgToken extracts the first whitespace-delimited token from a
// bash-style command argument, used to evaluate bash(prefix:*) patterns
// against an actual command string (e.g. "git status" → "git").
func FirstArgToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
