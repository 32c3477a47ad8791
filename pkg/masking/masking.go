// Package masking scrubs sensitive substrings out of tool observation text
// before it is recorded onto a reasoning chain or streamed through the
// event bus, using named groups of compiled patterns applicable to any
// tool's output.
package masking

import (
	"fmt"
	"regexp"
	"sync"
)

// Pattern is one compiled redaction rule: every match of Regex in a
// candidate string is replaced with Replacement.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// Group is a named, ordered set of patterns applied together, e.g. a
// "credentials" group covering API keys, bearer tokens, and passwords.
type Group struct {
	Name     string
	Patterns []Pattern
}

// BuiltinGroups are always available and need no registration. They cover
// the secret shapes common enough to appear in arbitrary tool output
// (API keys, bearer tokens, AWS-style access keys, private key blocks).
func BuiltinGroups() []Group {
	return []Group{
		{
			Name: "credentials",
			Patterns: []Pattern{
				mustPattern("bearer-token", `(?i)bearer\s+[a-z0-9._-]+`, "bearer ***"),
				mustPattern("api-key-assignment", `(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*['"]?[^\s'"]{6,}['"]?`, "$1=***"),
				mustPattern("aws-access-key", `AKIA[0-9A-Z]{16}`, "***"),
				mustPattern("private-key-block", `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`, "***REDACTED PRIVATE KEY***"),
			},
		},
	}
}

func mustPattern(name, expr, replacement string) Pattern {
	return Pattern{Name: name, Regex: regexp.MustCompile(expr), Replacement: replacement}
}

// Service applies a resolved set of masking groups to text. It is
// thread-safe for concurrent use across tool calls running in parallel.
type Service struct {
	mu     sync.RWMutex
	groups map[string]Group
}

// NewService builds a Service seeded with BuiltinGroups plus any
// additional groups supplied by the caller (e.g. skill- or
// platform-specific patterns loaded from config).
func NewService(extra ...Group) *Service {
	s := &Service{groups: make(map[string]Group)}
	for _, g := range BuiltinGroups() {
		s.groups[g.Name] = g
	}
	for _, g := range extra {
		s.groups[g.Name] = g
	}
	return s
}

// AddGroup registers or replaces a named pattern group.
func (s *Service) AddGroup(g Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.Name] = g
}

// Mask applies every pattern in the named groups to text, in group-name
// order, and returns the redacted string. An unknown group name is
// silently skipped — masking is defense-in-depth, not an allowlist gate,
// so a misconfigured group name must never turn into a hard failure that
// blocks an otherwise-successful tool result.
func (s *Service) Mask(text string, groupNames []string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := text
	for _, name := range groupNames {
		g, ok := s.groups[name]
		if !ok {
			continue
		}
		for _, p := range g.Patterns {
			out = p.Regex.ReplaceAllString(out, p.Replacement)
		}
	}
	return out
}

// MaskAll applies every registered group, in no particular guaranteed
// order beyond "credentials" always running first if present.
func (s *Service) MaskAll(text string) string {
	s.mu.RLock()
	names := make([]string, 0, len(s.groups))
	for n := range s.groups {
		names = append(names, n)
	}
	s.mu.RUnlock()
	return s.Mask(text, names)
}

// GroupNames returns the currently registered group names, for
// diagnostics and the demo CLI's `--list-masking-groups` flag.
func (s *Service) GroupNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.groups))
	for n := range s.groups {
		names = append(names, n)
	}
	return names
}

// ErrUnknownGroup is returned by NewGroupFromPatterns when a pattern fails
// to compile, wrapping the regexp error with the offending pattern name.
type CompileError struct {
	PatternName string
	Err         error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("masking pattern %q: %v", e.PatternName, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// NewGroup compiles a caller-supplied set of (name, regex, replacement)
// rules into a Group, e.g. for skill-declared or platform-config-loaded
// patterns. Returns a *CompileError on the first invalid regex.
func NewGroup(name string, rules [][3]string) (Group, error) {
	g := Group{Name: name}
	for _, r := range rules {
		re, err := regexp.Compile(r[1])
		if err != nil {
			return Group{}, &CompileError{PatternName: r[0], Err: err}
		}
		g.Patterns = append(g.Patterns, Pattern{Name: r[0], Regex: re, Replacement: r[2]})
	}
	return g, nil
}
