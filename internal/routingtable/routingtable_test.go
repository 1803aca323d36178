package routingtable

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsEmptyTable(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Load(filepath.Join(dir, "routing.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Port())
	assert.Empty(t, tbl.List())
}

func TestSetPortAndPut_RoundTripThroughDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routing.json")
	tbl := New(path)

	require.NoError(t, tbl.SetPort(8080))
	require.NoError(t, tbl.Put("demo", Route{HostPort: 10123, ContainerName: "ploinky_demo_demo_ws_abcd1234"}))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, reloaded.Port())

	route, ok := reloaded.Get("demo")
	require.True(t, ok)
	assert.Equal(t, 10123, route.HostPort)
	assert.False(t, route.Disabled)
}

func TestDelete_DoesNotDropOtherRoutes(t *testing.T) {
	dir := t.TempDir()
	tbl := New(filepath.Join(dir, "routing.json"))
	require.NoError(t, tbl.Put("demo", Route{HostPort: 1}))
	require.NoError(t, tbl.Put("other", Route{HostPort: 2}))

	require.NoError(t, tbl.Delete("demo"))

	_, ok := tbl.Get("demo")
	assert.False(t, ok)
	_, ok = tbl.Get("other")
	assert.True(t, ok)
}

func TestSetDisabled(t *testing.T) {
	dir := t.TempDir()
	tbl := New(filepath.Join(dir, "routing.json"))
	require.NoError(t, tbl.Put("demo", Route{HostPort: 1}))

	require.NoError(t, tbl.SetDisabled("demo", true))
	route, _ := tbl.Get("demo")
	assert.True(t, route.Disabled)

	err := tbl.SetDisabled("missing", true)
	assert.Error(t, err)
}
