package psarc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	tests := []struct {
		path       string
		compressed bool
	}{
		{"sce_sys/icon0.png", false},
		{"sound/bgm.at3", false},
		{"sound/bank.bnk", false},
		{"sce_sys/snd0_1.at3", true},
		{"data/level.bin", true},
		{"sce_sys/param.sfo", true},
		{"readme.txt", true},
		{"upper/ICON0.PNG", true},
		{"png", true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.compressed, p.Compressed(tc.path), tc.path)
	}
}

func TestPatternPolicy(t *testing.T) {
	t.Parallel()

	p := PatternPolicy{
		Raw:    []string{"*.png", "movies/**"},
		Always: []string{"movies/*.txt"},
	}
	require.NoError(t, p.Validate())

	assert.False(t, p.Compressed("icon0.png"))
	assert.False(t, p.Compressed("deep/nested/icon.png"))
	assert.False(t, p.Compressed("movies/intro.pam"))
	assert.True(t, p.Compressed("movies/credits.txt"))
	assert.True(t, p.Compressed("data/level.bin"))

	// The zero value decompresses everything.
	assert.True(t, PatternPolicy{}.Compressed("icon0.png"))
}

func TestPatternPolicyValidate(t *testing.T) {
	t.Parallel()

	err := PatternPolicy{Raw: []string{"ok/*", "bad["}}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad[")

	// Malformed patterns never match.
	assert.True(t, PatternPolicy{Raw: []string{"bad["}}.Compressed("bad["))
}

func TestPolicyFunc(t *testing.T) {
	t.Parallel()

	var seen string
	p := PolicyFunc(func(path string) bool {
		seen = path
		return false
	})
	assert.False(t, p.Compressed("a/b"))
	assert.Equal(t, "a/b", seen)
}
