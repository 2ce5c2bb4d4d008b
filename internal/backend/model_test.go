package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestFindModelFile(t *testing.T) {
	dir := t.TempDir()
	first := touch(t, filepath.Join(dir, "a", "model.onnx"))
	preferred := touch(t, filepath.Join(dir, "b", "U2NetP.ONNX"))
	touch(t, filepath.Join(dir, "README.md"))

	tests := []struct {
		name   string
		prefer string
		want   string
	}{
		{name: "preferred stem", prefer: "u2netp", want: preferred},
		{name: "no preference", want: first},
		{name: "unknown preference", prefer: "isnet", want: first},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindModelFile(dir, ".onnx", tt.prefer)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindModelFile_Missing(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "weights.bin"))

	_, err := FindModelFile(dir, ".onnx", "")
	assert.ErrorIs(t, err, ErrModelFileNotFound)

	_, err = FindModelFile(filepath.Join(dir, "nope"), ".onnx", "")
	assert.Error(t, err)
}
