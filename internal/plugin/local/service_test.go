package local

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFetchScrapeFilesWalksDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("y"), 0o644))

	svc, err := NewService(dir, t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	files := svc.FetchScrapeFiles()
	require.Len(t, files, 2)
}

func TestMoveFileToProcessedRelocatesFile(t *testing.T) {
	watchDir := t.TempDir()
	processedDir := filepath.Join(t.TempDir(), "processed")

	svc, err := NewService(watchDir, processedDir, zap.NewNop())
	require.NoError(t, err)

	src := filepath.Join(watchDir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	require.NoError(t, svc.MoveFileToProcessed(src))

	_, err = os.Stat(src)
	require.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(processedDir, "a.txt"))
	require.NoError(t, err)
}

func TestMoveFileToProcessedMissingFileIsNoOp(t *testing.T) {
	svc, err := NewService(t.TempDir(), t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, svc.MoveFileToProcessed(filepath.Join(t.TempDir(), "missing.txt")))
}
