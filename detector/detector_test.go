package detector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeGame(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "MyGame")
	gameDir := filepath.Join(root, "game")
	require.NoError(t, os.MkdirAll(gameDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(gameDir, "archive.rpa"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(gameDir, "scripts.rpa"), []byte("x"), 0644))
	return root
}

func TestDetectFromRoot(t *testing.T) {
	root := fakeGame(t)
	info, err := DetectGame(root)
	require.NoError(t, err)
	assert.Equal(t, "MyGame", info.Name)
	assert.Equal(t, filepath.Join(root, "game"), info.GameDir)
	assert.Len(t, info.RPAFiles, 2)
	assert.True(t, info.HasRPAFiles())
}

func TestDetectFromGameDir(t *testing.T) {
	root := fakeGame(t)
	info, err := DetectGame(filepath.Join(root, "game"))
	require.NoError(t, err)
	assert.Equal(t, root, info.RootDir)
	assert.Len(t, info.RPAFiles, 2)
}

func TestDetectBareArchiveDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.rpa"), []byte("x"), 0644))
	info, err := DetectGame(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, info.GameDir)
	assert.Len(t, info.RPAFiles, 1)
}

func TestDetectFailure(t *testing.T) {
	_, err := DetectGame(t.TempDir())
	require.Error(t, err)
	var notFound *GameNotFoundError
	assert.ErrorAs(t, err, &notFound)
}
