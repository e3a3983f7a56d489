// Package inventory turns KubeVirt VirtualMachineInstance lists into an
// Ansible-style inventory graph: groups, parent/child edges, hosts and host
// variables.
package inventory

import (
	"encoding/json"
	"sort"
	"sync"
)

// Sink receives inventory graph mutations. Every operation is idempotent:
// repeated calls with identical arguments are no-ops.
type Sink interface {
	AddGroup(name string)
	AddChild(parent, child string)
	AddHost(name string)
	SetVariable(host, key string, value interface{})
}

// Graph is an in-memory Sink. A single mutex serializes writes so namespace
// projections may run concurrently on a shared graph.
type Graph struct {
	mu     sync.Mutex
	groups map[string]*group
	hosts  map[string]map[string]interface{}
}

type group struct {
	children map[string]struct{}
	hosts    map[string]struct{}
}

// NewGraph creates an empty inventory graph.
func NewGraph() *Graph {
	return &Graph{
		groups: make(map[string]*group),
		hosts:  make(map[string]map[string]interface{}),
	}
}

func (g *Graph) addGroupLocked(name string) *group {
	grp, ok := g.groups[name]
	if !ok {
		grp = &group{
			children: make(map[string]struct{}),
			hosts:    make(map[string]struct{}),
		}
		g.groups[name] = grp
	}
	return grp
}

// AddGroup registers a group.
func (g *Graph) AddGroup(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addGroupLocked(name)
}

// AddChild records child as a member of parent. A child that is a registered
// group becomes a child group; anything else is treated as a host member.
func (g *Graph) AddChild(parent, child string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	grp := g.addGroupLocked(parent)
	if _, isGroup := g.groups[child]; isGroup {
		grp.children[child] = struct{}{}
		return
	}
	grp.hosts[child] = struct{}{}
}

// AddHost registers a host. The name is used verbatim as the host key.
func (g *Graph) AddHost(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.hosts[name]; !ok {
		g.hosts[name] = make(map[string]interface{})
	}
}

// SetVariable sets a host variable. Later writes win.
func (g *Graph) SetVariable(host, key string, value interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	vars, ok := g.hosts[host]
	if !ok {
		vars = make(map[string]interface{})
		g.hosts[host] = vars
	}
	vars[key] = value
}

// Groups returns the sorted group names.
func (g *Graph) Groups() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.groups))
	for name := range g.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hosts returns the sorted host names.
func (g *Graph) Hosts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.hosts))
	for name := range g.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HostVars returns the variables of one host, or nil if unknown.
func (g *Graph) HostVars(host string) map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	vars, ok := g.hosts[host]
	if !ok {
		return nil
	}
	out := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

// GroupMembers returns the sorted child groups and hosts of a group.
func (g *Graph) GroupMembers(name string) (children, hosts []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	grp, ok := g.groups[name]
	if !ok {
		return nil, nil
	}
	return sortedKeys(grp.children), sortedKeys(grp.hosts)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Export renders the graph in Ansible dynamic-inventory JSON shape:
// one object per group with hosts/children, plus _meta.hostvars, plus the
// implicit "all" group whose children are the groups without a parent.
func (g *Graph) Export() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]interface{}, len(g.groups)+2)

	hasParent := make(map[string]bool)
	for _, grp := range g.groups {
		for child := range grp.children {
			hasParent[child] = true
		}
	}

	groupNames := make([]string, 0, len(g.groups))
	for name := range g.groups {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)

	topLevel := make([]string, 0, len(groupNames))
	for _, name := range groupNames {
		grp := g.groups[name]
		entry := make(map[string]interface{}, 2)
		if len(grp.hosts) > 0 {
			entry["hosts"] = sortedKeys(grp.hosts)
		}
		if len(grp.children) > 0 {
			entry["children"] = sortedKeys(grp.children)
		}
		out[name] = entry
		if !hasParent[name] {
			topLevel = append(topLevel, name)
		}
	}

	hostvars := make(map[string]interface{}, len(g.hosts))
	for host, vars := range g.hosts {
		copied := make(map[string]interface{}, len(vars))
		for k, v := range vars {
			copied[k] = v
		}
		hostvars[host] = copied
	}

	out["all"] = map[string]interface{}{"children": append(topLevel, "ungrouped")}
	out["_meta"] = map[string]interface{}{"hostvars": hostvars}
	return out
}

// MarshalJSON renders the exported graph.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Export())
}
