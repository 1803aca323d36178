package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsEmptyRegistry(t *testing.T) {
	dir := t.TempDir()
	r, err := Load(filepath.Join(dir, "agents.json"))
	require.NoError(t, err)
	assert.Empty(t, r.List())
}

func TestPutAndGet_RoundTripsThroughDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.json")
	r := New(path)

	rec := AgentRecord{
		AgentName:      "demo",
		RepoName:       "demo-repo",
		ContainerImage: "node:18-alpine",
		CreatedAt:      "2026-07-31T00:00:00Z",
		ProjectPath:    "/workspace",
		Type:           TypeAgent,
		Config: AgentConfig{
			Ports: []PortMapping{{ContainerPort: 7000, HostPort: 10123}},
		},
	}
	require.NoError(t, r.Put("ploinky_demo_demo_ws_abcd1234", rec))

	reloaded, err := Load(path)
	require.NoError(t, err)

	got, ok := reloaded.Get("ploinky_demo_demo_ws_abcd1234")
	require.True(t, ok)
	assert.Equal(t, "demo", got.AgentName)
	assert.Equal(t, 10123, got.Config.Ports[0].HostPort)
}

func TestDelete_RemovesRecord(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "agents.json"))
	require.NoError(t, r.Put("c1", AgentRecord{AgentName: "a"}))
	require.NoError(t, r.Delete("c1"))

	_, ok := r.Get("c1")
	assert.False(t, ok)
}

func TestFindByAgentName(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "agents.json"))
	require.NoError(t, r.Put("ploinky_demo_demo_ws_abcd1234", AgentRecord{AgentName: "demo"}))

	containerName, rec, ok := r.FindByAgentName("demo")
	require.True(t, ok)
	assert.Equal(t, "ploinky_demo_demo_ws_abcd1234", containerName)
	assert.Equal(t, "demo", rec.AgentName)

	_, _, ok = r.FindByAgentName("missing")
	assert.False(t, ok)
}

func TestMarkIntentionallyStopped(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "agents.json"))
	require.NoError(t, r.Put("c1", AgentRecord{AgentName: "a"}))

	require.NoError(t, r.MarkIntentionallyStopped("c1", true))
	rec, _ := r.Get("c1")
	assert.True(t, rec.IntentionallyStopped)

	err := r.MarkIntentionallyStopped("missing", true)
	assert.Error(t, err)
}

func TestForeignContainer(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "agents.json"))
	require.NoError(t, r.Put("ploinky_known", AgentRecord{AgentName: "known"}))

	assert.False(t, ForeignContainer("ploinky_known", r))
	assert.True(t, ForeignContainer("ploinky_unknown", r))
}
