package skill

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, root, name, description string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	body := "---\nname: " + name + "\ndescription: " + description + "\n---\nbody\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, SkillFilename), []byte(body), 0o644))
}

func TestLoaderLoadsSkillsFromDirectory(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", "deploys the service")
	writeSkill(t, root, "rollback", "rolls back the service")

	l := NewFileLoader()
	require.NoError(t, l.Load(root, SourceProject))

	assert.ElementsMatch(t, []string{"deploy", "rollback"}, l.Names())

	doc, ok := l.Get("deploy")
	require.True(t, ok)
	assert.Equal(t, "deploys the service", doc.GetMetadata().Description)
}

func TestLoaderHigherLayerOverridesLowerLayer(t *testing.T) {
	projectRoot := t.TempDir()
	platformRoot := t.TempDir()
	writeSkill(t, projectRoot, "deploy", "project version")
	writeSkill(t, platformRoot, "deploy", "platform version")

	l := NewFileLoader()
	require.NoError(t, l.Load(projectRoot, SourceProject))
	require.NoError(t, l.Load(platformRoot, SourcePlatform))

	doc, ok := l.Get("deploy")
	require.True(t, ok)
	assert.Equal(t, "platform version", doc.GetMetadata().Description)
}

func TestLoaderLowerLayerDoesNotOverrideHigherLayer(t *testing.T) {
	projectRoot := t.TempDir()
	platformRoot := t.TempDir()
	writeSkill(t, platformRoot, "deploy", "platform version")
	writeSkill(t, projectRoot, "deploy", "project version")

	l := NewFileLoader()
	require.NoError(t, l.Load(platformRoot, SourcePlatform))
	require.NoError(t, l.Load(projectRoot, SourceProject))

	doc, ok := l.Get("deploy")
	require.True(t, ok)
	assert.Equal(t, "platform version", doc.GetMetadata().Description)
}

func TestLoaderGetUnknownSkill(t *testing.T) {
	l := NewFileLoader()
	_, ok := l.Get("missing")
	assert.False(t, ok)
}

func TestLoaderMissingDirectory(t *testing.T) {
	l := NewFileLoader()
	err := l.Load("/nonexistent/dir", SourceProject)
	require.Error(t, err)
}

func TestLoaderSkipsNonSkillSubdirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-skill"), 0o755))
	writeSkill(t, root, "deploy", "deploys")

	l := NewFileLoader()
	require.NoError(t, l.Load(root, SourceProject))
	assert.ElementsMatch(t, []string{"deploy"}, l.Names())
}
