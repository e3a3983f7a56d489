package inventory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGraph_AddChildGroupVsHost(t *testing.T) {
	g := NewGraph()
	g.AddGroup("parent")
	g.AddGroup("childgroup")
	g.AddChild("parent", "childgroup")
	g.AddChild("parent", "somehost")

	children, hosts := g.GroupMembers("parent")
	require.Equal(t, []string{"childgroup"}, children)
	require.Equal(t, []string{"somehost"}, hosts)
}

func TestGraph_OperationsAreIdempotent(t *testing.T) {
	g := NewGraph()
	for i := 0; i < 3; i++ {
		g.AddGroup("grp")
		g.AddChild("grp", "h1")
		g.AddHost("h1")
		g.SetVariable("h1", "k", "v")
	}

	require.Equal(t, []string{"grp"}, g.Groups())
	_, hosts := g.GroupMembers("grp")
	require.Equal(t, []string{"h1"}, hosts)
	require.Equal(t, map[string]interface{}{"k": "v"}, g.HostVars("h1"))
}

func TestGraph_AddHostPreservesVariables(t *testing.T) {
	g := NewGraph()
	g.SetVariable("h1", "k", "v")
	g.AddHost("h1")
	require.Equal(t, map[string]interface{}{"k": "v"}, g.HostVars("h1"))
}

func TestGraph_HostVarsUnknownHost(t *testing.T) {
	g := NewGraph()
	require.Nil(t, g.HostVars("nope"))
}

func TestGraph_Export(t *testing.T) {
	g := NewGraph()
	g.AddGroup("cluster")
	g.AddGroup("namespace_default")
	g.AddChild("cluster", "namespace_default")
	g.AddHost("default-vm")
	g.AddChild("namespace_default", "default-vm")
	g.SetVariable("default-vm", "ansible_host", "10.0.0.1")

	out := g.Export()

	require.Equal(t, map[string]interface{}{
		"children": []string{"namespace_default"},
	}, out["cluster"])
	require.Equal(t, map[string]interface{}{
		"hosts": []string{"default-vm"},
	}, out["namespace_default"])

	// Only parentless groups sit under "all", plus the implicit ungrouped.
	all, ok := out["all"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, []string{"cluster", "ungrouped"}, all["children"])

	meta, ok := out["_meta"].(map[string]interface{})
	require.True(t, ok)
	hostvars, ok := meta["hostvars"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, map[string]interface{}{"ansible_host": "10.0.0.1"}, hostvars["default-vm"])
}

func TestGraph_ExportEmptyGroupHasNoKeys(t *testing.T) {
	g := NewGraph()
	g.AddGroup("empty")

	out := g.Export()
	entry, ok := out["empty"].(map[string]interface{})
	require.True(t, ok)
	require.Empty(t, entry)
}

func TestGraph_MarshalJSON(t *testing.T) {
	g := NewGraph()
	g.AddGroup("grp")
	g.AddHost("h1")
	g.AddChild("grp", "h1")

	data, err := json.Marshal(g)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Contains(t, decoded, "grp")
	require.Contains(t, decoded, "all")
	require.Contains(t, decoded, "_meta")
}
