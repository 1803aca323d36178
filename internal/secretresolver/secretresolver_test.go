package secretresolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSecrets(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestResolveVarValue_ReturnsStoredValue(t *testing.T) {
	path := writeSecrets(t, "API_KEY=abc123\nOTHER=xyz\n")
	r, err := New(path)
	require.NoError(t, err)

	v := r.ResolveVarValue("API_KEY")
	require.NotNil(t, v)
	assert.Equal(t, "abc123", *v)
}

func TestResolveVarValue_MissingKeyReturnsNil(t *testing.T) {
	path := writeSecrets(t, "API_KEY=abc123\n")
	r, err := New(path)
	require.NoError(t, err)

	assert.Nil(t, r.ResolveVarValue("MISSING"))
}

func TestNew_MissingFileIsEmptyStore(t *testing.T) {
	dir := t.TempDir()
	r, err := New(filepath.Join(dir, ".secrets"))
	require.NoError(t, err)
	assert.Nil(t, r.ResolveVarValue("ANYTHING"))
}

func TestParseSecretsFile_SkipsBlankAndCommentLines(t *testing.T) {
	path := writeSecrets(t, "# a comment\n\nAPI_KEY=abc123\n")
	r, err := New(path)
	require.NoError(t, err)

	v := r.ResolveVarValue("API_KEY")
	require.NotNil(t, v)
	assert.Equal(t, "abc123", *v)
}

func TestReload_PicksUpChanges(t *testing.T) {
	path := writeSecrets(t, "API_KEY=old\n")
	r, err := New(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("API_KEY=new\n"), 0o600))
	require.NoError(t, r.Reload())

	v := r.ResolveVarValue("API_KEY")
	require.NotNil(t, v)
	assert.Equal(t, "new", *v)
}
