package toolrouter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(routes map[string]ToolRoute, blocked map[string]bool) *Router {
	return &Router{
		servers: make(map[string]*registeredServer),
		routes:  routes,
		blocked: blocked,
	}
}

func TestHasRoute(t *testing.T) {
	r := newTestRouter(map[string]ToolRoute{
		"fs_read": {ExposedName: "fs_read"},
	}, map[string]bool{})

	assert.True(t, r.HasRoute("fs_read"))
	assert.False(t, r.HasRoute("fs_write"))
}

func TestHasRoute_BlockedIsNotAvailable(t *testing.T) {
	r := newTestRouter(map[string]ToolRoute{
		"fs_delete": {ExposedName: "fs_delete", DestructiveHint: true},
	}, map[string]bool{"fs_delete": true})

	assert.False(t, r.HasRoute("fs_delete"))
}

func TestFilterForAgent_EmptyAllowedMeansEverythingVisible(t *testing.T) {
	r := newTestRouter(map[string]ToolRoute{
		"fs_read":  {ExposedName: "fs_read"},
		"fs_write": {ExposedName: "fs_write"},
	}, map[string]bool{})

	out := r.FilterForAgent(nil, nil)
	assert.ElementsMatch(t, []string{"fs_read", "fs_write"}, out)
}

func TestFilterForAgent_AllowedGlobFiltersOut(t *testing.T) {
	r := newTestRouter(map[string]ToolRoute{
		"fs_read":   {ExposedName: "fs_read"},
		"web_fetch": {ExposedName: "web_fetch"},
	}, map[string]bool{})

	out := r.FilterForAgent([]string{"fs_*"}, nil)
	assert.Equal(t, []string{"fs_read"}, out)
}

func TestFilterForAgent_DeniedGlobWinsOverAllowed(t *testing.T) {
	r := newTestRouter(map[string]ToolRoute{
		"fs_read":   {ExposedName: "fs_read"},
		"fs_delete": {ExposedName: "fs_delete"},
	}, map[string]bool{})

	out := r.FilterForAgent([]string{"fs_*"}, []string{"fs_delete"})
	assert.Equal(t, []string{"fs_read"}, out)
}

func TestFilterForAgent_BlockedNeverVisible(t *testing.T) {
	r := newTestRouter(map[string]ToolRoute{
		"fs_delete": {ExposedName: "fs_delete", DestructiveHint: true},
	}, map[string]bool{"fs_delete": true})

	out := r.FilterForAgent(nil, nil)
	assert.Empty(t, out)
}

func TestRoute_UnknownToolErrors(t *testing.T) {
	r := newTestRouter(map[string]ToolRoute{}, map[string]bool{})

	_, err := r.Route(context.Background(), "nonexistent", nil)
	require.Error(t, err)
}

func TestRoute_BlockedToolReturnsErrToolBlocked(t *testing.T) {
	r := newTestRouter(map[string]ToolRoute{
		"fs_delete": {ExposedName: "fs_delete", ServerName: "fs"},
	}, map[string]bool{"fs_delete": true})
	r.servers["fs"] = &registeredServer{name: "fs"}

	_, err := r.Route(context.Background(), "fs_delete", nil)
	assert.ErrorIs(t, err, ErrToolBlocked)
}

func TestGetBlockedTools(t *testing.T) {
	r := newTestRouter(map[string]ToolRoute{}, map[string]bool{"fs_delete": true, "shell_exec": true})

	assert.ElementsMatch(t, []string{"fs_delete", "shell_exec"}, r.GetBlockedTools())
}

func TestToolDefinitions_ExcludesBlocked(t *testing.T) {
	r := newTestRouter(map[string]ToolRoute{
		"fs_read":   {ExposedName: "fs_read"},
		"fs_delete": {ExposedName: "fs_delete"},
	}, map[string]bool{"fs_delete": true})

	defs := r.ToolDefinitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "fs_read", defs[0].ExposedName)
}

func TestMatchesAny(t *testing.T) {
	assert.True(t, matchesAny("fs_read", []string{"fs_*"}))
	assert.False(t, matchesAny("web_fetch", []string{"fs_*"}))
	assert.True(t, matchesAny("exact", []string{"other", "exact"}))
}
