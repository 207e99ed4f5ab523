package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFolderName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Smith Project", "Smith Project"},
		{"  ..Smith/Jones: Phase 2?.  ", "Smith_Jones_ Phase 2_"},
		{"a<b>c|d*e\"f\\g", "a_b_c_d_e_f_g"},
		{"tab\there", "tab_here"},
		{" . ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFolderName(tt.in), tt.in)
	}
}

func TestFolderResolver_SuffixSequence(t *testing.T) {
	base := t.TempDir()
	var r FolderResolver

	want := []string{"Smith Project", "Smith Project_1", "Smith Project_2"}
	for _, w := range want {
		f, err := r.Resolve(base, "Smith Project", "abc-1")
		require.NoError(t, err)
		assert.Equal(t, w, f.Name)
		assert.Equal(t, filepath.Join(base, w), f.Path)
		assert.DirExists(t, f.Path)
	}
}

func TestFolderResolver_ExistingFolder(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "Smith Project"), 0o755))

	f, err := FolderResolver{}.Resolve(base, "Smith Project", "abc-1")
	require.NoError(t, err)
	assert.Equal(t, "Smith Project_1", f.Name)
}

func TestFolderResolver_FirstFreeSuffix(t *testing.T) {
	base := t.TempDir()
	for _, n := range []string{"Plans", "Plans_2"} {
		require.NoError(t, os.Mkdir(filepath.Join(base, n), 0o755))
	}
	f, err := FolderResolver{}.Resolve(base, "Plans", "x")
	require.NoError(t, err)
	assert.Equal(t, "Plans_1", f.Name)

	f, err = FolderResolver{}.Resolve(base, "Plans", "x")
	require.NoError(t, err)
	assert.Equal(t, "Plans_3", f.Name)
}

func TestFolderResolver_EmptyNameFallsBack(t *testing.T) {
	f, err := FolderResolver{}.Resolve(t.TempDir(), "  ", "{ABC-1}")
	require.NoError(t, err)
	assert.Equal(t, "request-{ABC-1}", f.Name)
}

func TestFolderResolver_FileInTheWay(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "Plans"), nil, 0o644))

	f, err := FolderResolver{}.Resolve(base, "Plans", "x")
	require.NoError(t, err)
	assert.Equal(t, "Plans_1", f.Name)
}
