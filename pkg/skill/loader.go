package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SkillFilename is the expected filename for a skill document inside its
// directory.
const SkillFilename = "SKILL.md"

// FileLoader is a reference, read-only loader that discovers skills from a
// set of directories. It is a convenience constructor only — the core
// (ReActDriver, Orchestrator) depends on the skill.Model interface, never
// on FileLoader directly, so callers can inject any other Loader
// implementation in its place.
type FileLoader struct {
	mu     sync.RWMutex
	skills map[string]*Document
}

// NewFileLoader creates an empty loader. Call Load to populate it.
func NewFileLoader() *FileLoader {
	return &FileLoader{skills: make(map[string]*Document)}
}

// Load parses every immediate subdirectory of dir containing a SKILL.md and
// registers it under the given source layer. Later calls with a
// higher-precedence layer for the same name override earlier ones, per the
// Skill invariant "name is unique within a layer" — across layers the
// higher layer always wins.
func (l *FileLoader) Load(dir string, layer SourceLayer) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read skill directory %s: %w", dir, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillDir := filepath.Join(dir, entry.Name())
		path := filepath.Join(skillDir, SkillFilename)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read %s: %w", path, err)
		}

		doc, err := Parse(data, skillDir, layer)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		existing, ok := l.skills[doc.metadata.Name]
		if ok && existing.metadata.Source > layer {
			continue // a higher-precedence layer already holds this name
		}
		l.skills[doc.metadata.Name] = doc
	}
	return nil
}

// Get returns the resolved skill by name, or (nil, false) if unknown.
func (l *FileLoader) Get(name string) (Model, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	doc, ok := l.skills[name]
	if !ok {
		return nil, false
	}
	return doc, true
}

// Names returns the sorted-by-insertion set of currently loaded skill names.
// A defensive copy is returned — callers must not mutate the registry
// through it, matching the read-mostly registry pattern used across the
// platform config package.
func (l *FileLoader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.skills))
	for name := range l.skills {
		names = append(names, name)
	}
	return names
}
