package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainerName_IsDeterministic(t *testing.T) {
	a := ContainerName("myrepo", "demo", "project", "/home/user/project")
	b := ContainerName("myrepo", "demo", "project", "/home/user/project")
	assert.Equal(t, a, b)
	assert.Regexp(t, `^ploinky_myrepo_demo_project_[0-9a-f]{8}$`, a)
}

func TestContainerName_DiffersByWorkspace(t *testing.T) {
	a := ContainerName("myrepo", "demo", "project", "/home/user/project-a")
	b := ContainerName("myrepo", "demo", "project", "/home/user/project-b")
	assert.NotEqual(t, a, b)
}

func TestContainerName_SanitizesUnsafeCharacters(t *testing.T) {
	name := ContainerName("my repo!", "demo/agent", "proj dir", "/tmp/x")
	assert.Regexp(t, `^ploinky_my_repo__demo_agent_proj_dir_[0-9a-f]{8}$`, name)
}

func TestHasPloinkyPrefix(t *testing.T) {
	assert.True(t, HasPloinkyPrefix("ploinky_demo_demo_ws_abcd1234"))
	assert.False(t, HasPloinkyPrefix("some_other_container"))
}

func TestNewPaths_LayoutMatchesSpec(t *testing.T) {
	p := NewPaths("/workspace")
	assert.Equal(t, "/workspace/.ploinky/agents.json", p.Agents)
	assert.Equal(t, "/workspace/.ploinky/routing.json", p.Routing)
	assert.Equal(t, "/workspace/.ploinky/.secrets", p.Secrets)
	assert.Equal(t, "/workspace/.ploinky/locks", p.Locks)
	assert.Equal(t, "/workspace/logs/router.log", p.Router)
	assert.Equal(t, "/workspace/logs/watchdog.log", p.Watchdog)
}
