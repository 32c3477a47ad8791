package skill

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// FrontmatterDelimiter marks the beginning and end of the YAML
	// frontmatter block in a skill document.
	FrontmatterDelimiter = "---"

	maxNameLength      = 64
	advisoryBodyLines  = 500
	defaultMaxIter     = 15
	defaultMaxRetries  = 3
	defaultTemperature = 0.0
)

// frontmatter is the raw YAML shape of a skill document's header.
type frontmatter struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	ExecutionMode string   `yaml:"execution-mode"`
	MaxIterations *int     `yaml:"max-iterations"`
	MaxRetries    *int     `yaml:"max-retries-per-tool"`
	Timeout       string   `yaml:"timeout-per-iteration"`
	Model         string   `yaml:"model"`
	Temperature   *float64 `yaml:"temperature"`
	AllowedTools  []string `yaml:"allowed-tools"`
	Priority      int      `yaml:"priority"`
}

// Parse parses raw skill-document bytes into a Document. directory is the
// skill's on-disk directory (used to resolve supporting-file references and
// exposed via GetDirectory); it may be empty for in-memory skills.
func Parse(data []byte, directory string, layer SourceLayer) (*Document, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	var raw frontmatter
	if err := yaml.Unmarshal(fm, &raw); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("parse frontmatter: %w", err)}
	}

	if raw.Name == "" {
		return nil, &ValidationError{Field: "name", Err: ErrNameRequired}
	}
	if raw.Description == "" {
		return nil, &ValidationError{Skill: raw.Name, Field: "description", Err: ErrDescriptionRequired}
	}
	if err := validateName(raw.Name); err != nil {
		return nil, &ValidationError{Skill: raw.Name, Field: "name", Err: err}
	}

	mode := ExecutionMode(raw.ExecutionMode)
	if mode == "" {
		mode = ModeAutonomous
	}
	if mode != ModeAutonomous && mode != ModeSimple {
		return nil, &ValidationError{Skill: raw.Name, Field: "execution-mode",
			Err: fmt.Errorf("must be %q or %q, got %q", ModeAutonomous, ModeSimple, mode)}
	}

	maxIter := defaultMaxIter
	if raw.MaxIterations != nil {
		maxIter = *raw.MaxIterations
	}
	if maxIter < 1 || maxIter > 100 {
		return nil, &ValidationError{Skill: raw.Name, Field: "max-iterations",
			Err: fmt.Errorf("must be in [1,100], got %d", maxIter)}
	}

	maxRetries := defaultMaxRetries
	if raw.MaxRetries != nil {
		maxRetries = *raw.MaxRetries
	}
	if maxRetries < 1 || maxRetries > 10 {
		return nil, &ValidationError{Skill: raw.Name, Field: "max-retries-per-tool",
			Err: fmt.Errorf("must be in [1,10], got %d", maxRetries)}
	}

	timeoutMs := 30000 // matches built-in default of 30000ms
	if raw.Timeout != "" {
		d, err := parseDuration(raw.Timeout)
		if err != nil {
			return nil, &ValidationError{Skill: raw.Name, Field: "timeout-per-iteration", Err: err}
		}
		if d < 1000 || d > 300000 {
			return nil, &ValidationError{Skill: raw.Name, Field: "timeout-per-iteration",
				Err: fmt.Errorf("must be in [1000,300000]ms, got %dms", d)}
		}
		timeoutMs = d
	}

	temperature := defaultTemperature
	if raw.Temperature != nil {
		temperature = *raw.Temperature
	}
	if temperature < 0.0 || temperature > 2.0 {
		return nil, &ValidationError{Skill: raw.Name, Field: "temperature",
			Err: fmt.Errorf("must be in [0.0,2.0], got %v", temperature)}
	}

	meta := Metadata{
		Name:              raw.Name,
		Description:       raw.Description,
		ExecutionMode:     mode,
		MaxIterations:     maxIter,
		MaxRetriesPerTool: maxRetries,
		TimeoutPerIter:    time.Duration(timeoutMs) * time.Millisecond,
		Model:             raw.Model,
		Temperature:       temperature,
		AllowedTools:      raw.AllowedTools,
		Priority:          raw.Priority,
		Source:            layer,
	}

	bodyStr := strings.TrimSpace(string(body))
	files := ExtractSupportingFiles(bodyStr)

	return &Document{
		body:       bodyStr,
		metadata:   meta,
		files:      files,
		directory:  directory,
		overLength: nonBlankLines(bodyStr) > advisoryBodyLines,
	}, nil
}

// splitFrontmatter separates YAML frontmatter from the markdown body,
// mirroring the bufio.Scanner state machine used across the retrieval pack
// for SKILL.md-style documents.
func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, nil, ErrEmptyDocument
	}
	if strings.TrimSpace(scanner.Text()) != FrontmatterDelimiter {
		return nil, nil, ErrMissingOpeningDelimiter
	}

	var fmLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == FrontmatterDelimiter {
			closed = true
			break
		}
		fmLines = append(fmLines, line)
	}
	if !closed {
		return nil, nil, ErrMissingClosingDelimiter
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	return []byte(strings.Join(fmLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}

func nonBlankLines(body string) int {
	n := 0
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

var kebabRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

func validateName(name string) error {
	if len(name) > maxNameLength {
		return fmt.Errorf("name exceeds %d characters: got %d", maxNameLength, len(name))
	}
	if !kebabRe.MatchString(name) {
		return fmt.Errorf("name must be lower-kebab-case, got %q", name)
	}
	return nil
}

// parseDuration parses the grammar "<number><unit>" where unit is one of
// ms, s, or m, with fractional seconds/minutes permitted. Returns
// milliseconds.
func parseDuration(s string) (int, error) {
	var unit string
	var numPart string
	switch {
	case strings.HasSuffix(s, "ms"):
		unit, numPart = "ms", strings.TrimSuffix(s, "ms")
	case strings.HasSuffix(s, "s"):
		unit, numPart = "s", strings.TrimSuffix(s, "s")
	case strings.HasSuffix(s, "m"):
		unit, numPart = "m", strings.TrimSuffix(s, "m")
	default:
		return 0, fmt.Errorf("duration %q missing unit (ms|s|m)", s)
	}
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}
	switch unit {
	case "ms":
		return int(n), nil
	case "s":
		return int(n * 1000), nil
	case "m":
		return int(n * 60000), nil
	}
	return 0, fmt.Errorf("unreachable")
}

var (
	mdFileRe     = regexp.MustCompile(`\b[\w./-]+\.md\b`)
	bulletRe     = regexp.MustCompile(`(?m)^\s*-\s*([\w./-]+\.md)\s*:\s*(.+)$`)
	boldRe       = regexp.MustCompile(`\*\*([\w./-]+\.md)\*\*`)
	imperativeRe = regexp.MustCompile(`(?i)\b(?:read|check|see)\s+([\w./-]+\.\w+)`)
)

// ExtractSupportingFiles finds supporting-file references in a skill body
// using a small fixed pattern set: inline `<name>.md`, bullet
// `- <name>.md: <desc>`, bold `**<name>.md**`, and imperative
// `Read|Check|See <path>`.
func ExtractSupportingFiles(body string) []FileReference {
	seen := make(map[string]bool)
	var out []FileReference

	add := func(path, desc string) {
		if seen[path] {
			return
		}
		seen[path] = true
		out = append(out, FileReference{RelativePath: path, Description: strings.TrimSpace(desc)})
	}

	for _, m := range bulletRe.FindAllStringSubmatch(body, -1) {
		add(m[1], m[2])
	}
	for _, m := range boldRe.FindAllStringSubmatch(body, -1) {
		add(m[1], "")
	}
	for _, m := range imperativeRe.FindAllStringSubmatch(body, -1) {
		add(m[1], "")
	}
	for _, m := range mdFileRe.FindAllString(body, -1) {
		add(m, "")
	}

	return out
}
