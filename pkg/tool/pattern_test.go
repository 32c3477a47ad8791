package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePatternExactName(t *testing.T) {
	p := ParsePattern("grep")
	assert.True(t, p.Match("grep", ""))
	assert.False(t, p.Match("bash", ""))
}

func TestParsePatternArgFilter(t *testing.T) {
	p := ParsePattern("bash(git:*)")
	assert.True(t, p.Match("bash", "git"))
	assert.False(t, p.Match("bash", "rm"))
	assert.False(t, p.Match("grep", "git"))
}

func TestPatternSetPermits(t *testing.T) {
	set := ParsePatternSet([]string{"grep", "bash(git:*)", "bash(npm:*)"})
	assert.True(t, set.Permits("grep", ""))
	assert.True(t, set.Permits("bash", "git"))
	assert.True(t, set.Permits("bash", "npm"))
	assert.False(t, set.Permits("bash", "curl"))
	assert.False(t, set.Permits("sql", ""))
}

func TestFirstArgToken(t *testing.T) {
	assert.Equal(t, "git", FirstArgToken("git status --porcelain"))
	assert.Equal(t, "", FirstArgToken(""))
	assert.Equal(t, "", FirstArgToken("   "))
}
