package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	kubevirtv1 "kubevirt.io/api/core/v1"

	"kv-inventory.io/kvinv/internal/config"
	apperrors "kv-inventory.io/kvinv/internal/pkg/errors"
	"kv-inventory.io/kvinv/internal/pkg/worker"
	"kv-inventory.io/kvinv/internal/provider"
)

type fakeClient struct {
	host       string
	namespaces []string
	vmis       map[string][]kubevirtv1.VirtualMachineInstance
	baseDomain string

	listNamespacesErr error
	listVMIsErr       error

	mu                sync.Mutex
	seenAPIVersion    string
	seenLabelSelector string
}

func (f *fakeClient) Host() string { return f.host }

func (f *fakeClient) ListNamespaces(ctx context.Context) ([]string, error) {
	return f.namespaces, f.listNamespacesErr
}

func (f *fakeClient) ListVMIs(ctx context.Context, namespace, apiVersion, labelSelector string) ([]kubevirtv1.VirtualMachineInstance, error) {
	if f.listVMIsErr != nil {
		return nil, f.listVMIsErr
	}
	f.mu.Lock()
	f.seenAPIVersion = apiVersion
	f.seenLabelSelector = labelSelector
	f.mu.Unlock()
	return f.vmis[namespace], nil
}

func (f *fakeClient) ClusterBaseDomain(ctx context.Context) string { return f.baseDomain }

func (f *fakeClient) VM() provider.VirtualMachineClient { return nil }

func fakeFactory(client *fakeClient) provider.Factory {
	return func(conn config.Connection) (provider.Client, error) {
		return client, nil
	}
}

func driverConfig(conns ...config.Connection) *config.Config {
	return &config.Config{
		HostFormat:  config.DefaultHostFormat,
		Connections: conns,
	}
}

func TestDriver_ExplicitNamespaces(t *testing.T) {
	client := &fakeClient{
		host: "https://k8s.example.com:6443",
		vmis: map[string][]kubevirtv1.VirtualMachineInstance{
			"ns1": {testVMI("ns1", "vm1", iface("eth0", "10.0.0.1"))},
		},
	}
	cfg := driverConfig(config.Connection{
		Name:       "prod",
		Namespaces: []string{"ns1"},
		APIVersion: config.DefaultAPIVersion,
	})

	graph, err := NewDriver(cfg, fakeFactory(client), nil).Build(context.Background())
	require.NoError(t, err)

	require.Contains(t, graph.Groups(), "prod")
	require.Contains(t, graph.Groups(), "namespace_ns1")
	require.Equal(t, []string{"ns1-vm1"}, graph.Hosts())
}

func TestDriver_ConnectionNameDerivedFromHost(t *testing.T) {
	client := &fakeClient{
		host:       "https://k8s.example.com:6443",
		namespaces: []string{"ns1"},
	}
	cfg := driverConfig(config.Connection{APIVersion: config.DefaultAPIVersion})

	graph, err := NewDriver(cfg, fakeFactory(client), nil).Build(context.Background())
	require.NoError(t, err)
	require.Contains(t, graph.Groups(), "k8s_example_com_6443")
}

func TestDriver_NoConnectionsUsesDefault(t *testing.T) {
	client := &fakeClient{
		host:       "https://in-cluster:443",
		namespaces: []string{"default"},
	}
	cfg := driverConfig()

	graph, err := NewDriver(cfg, fakeFactory(client), nil).Build(context.Background())
	require.NoError(t, err)
	require.Contains(t, graph.Groups(), "namespace_default")
}

func TestDriver_ListsNamespacesWhenUnset(t *testing.T) {
	client := &fakeClient{
		host:       "https://h:6443",
		namespaces: []string{"a", "b"},
	}
	cfg := driverConfig(config.Connection{Name: "c", APIVersion: config.DefaultAPIVersion})

	graph, err := NewDriver(cfg, fakeFactory(client), nil).Build(context.Background())
	require.NoError(t, err)
	require.Contains(t, graph.Groups(), "namespace_a")
	require.Contains(t, graph.Groups(), "namespace_b")
}

func TestDriver_PassesAPIVersionAndLabelSelector(t *testing.T) {
	client := &fakeClient{host: "https://h:6443"}
	cfg := driverConfig(config.Connection{
		Name:          "c",
		Namespaces:    []string{"ns1"},
		APIVersion:    "kubevirt.io/v1alpha3",
		LabelSelector: "app=web",
	})

	_, err := NewDriver(cfg, fakeFactory(client), nil).Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, "kubevirt.io/v1alpha3", client.seenAPIVersion)
	require.Equal(t, "app=web", client.seenLabelSelector)
}

func TestDriver_FetchErrorAbortsRun(t *testing.T) {
	client := &fakeClient{
		host:        "https://h:6443",
		listVMIsErr: apperrors.ErrAPIFetchf("vmis", nil),
	}
	cfg := driverConfig(config.Connection{
		Name:       "c",
		Namespaces: []string{"ns1", "ns2"},
		APIVersion: config.DefaultAPIVersion,
	})

	graph, err := NewDriver(cfg, fakeFactory(client), nil).Build(context.Background())
	require.Error(t, err)
	require.Nil(t, graph)
}

func TestDriver_ResolvesBaseDomainForSecondaryDNS(t *testing.T) {
	client := &fakeClient{
		host:       "https://h:6443",
		baseDomain: "example.com",
		vmis: map[string][]kubevirtv1.VirtualMachineInstance{
			"ns1": {testVMI("ns1", "vm1", iface("bridge", "10.0.0.9"))},
		},
	}
	cfg := driverConfig(config.Connection{
		Name:             "c",
		Namespaces:       []string{"ns1"},
		APIVersion:       config.DefaultAPIVersion,
		NetworkName:      "bridge",
		KubeSecondaryDNS: true,
	})

	graph, err := NewDriver(cfg, fakeFactory(client), nil).Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, "bridge.vm1.ns1.vm.example.com", graph.HostVars("ns1-vm1")["ansible_host"])
}

func TestDriver_ExplicitBaseDomainWins(t *testing.T) {
	client := &fakeClient{
		host:       "https://h:6443",
		baseDomain: "cluster-reported.com",
		vmis: map[string][]kubevirtv1.VirtualMachineInstance{
			"ns1": {testVMI("ns1", "vm1", iface("bridge", "10.0.0.9"))},
		},
	}
	cfg := driverConfig(config.Connection{
		Name:             "c",
		Namespaces:       []string{"ns1"},
		APIVersion:       config.DefaultAPIVersion,
		NetworkName:      "bridge",
		KubeSecondaryDNS: true,
		BaseDomain:       "configured.com",
	})

	graph, err := NewDriver(cfg, fakeFactory(client), nil).Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, "bridge.vm1.ns1.vm.configured.com", graph.HostVars("ns1-vm1")["ansible_host"])
}

func TestDriver_FanOutOverWorkerPool(t *testing.T) {
	namespaces := []string{"a", "b", "c", "d"}
	vmis := make(map[string][]kubevirtv1.VirtualMachineInstance, len(namespaces))
	for _, ns := range namespaces {
		vmis[ns] = []kubevirtv1.VirtualMachineInstance{testVMI(ns, "vm", iface("eth0", "10.0.0.1"))}
	}
	client := &fakeClient{host: "https://h:6443", namespaces: namespaces, vmis: vmis}
	cfg := driverConfig(config.Connection{Name: "c", APIVersion: config.DefaultAPIVersion})

	pool, err := worker.NewPool("test-namespaces", 2)
	require.NoError(t, err)
	defer pool.Release()

	graph, err := NewDriver(cfg, fakeFactory(client), pool).Build(context.Background())
	require.NoError(t, err)

	require.Len(t, graph.Hosts(), len(namespaces))
	for _, ns := range namespaces {
		require.Contains(t, graph.Groups(), "namespace_"+ns)
	}
}

func TestDriver_MultipleConnectionsShareGraph(t *testing.T) {
	client := &fakeClient{
		host: "https://h:6443",
		vmis: map[string][]kubevirtv1.VirtualMachineInstance{
			"ns1": {testVMI("ns1", "vm1", iface("eth0", "10.0.0.1"))},
		},
	}
	cfg := driverConfig(
		config.Connection{Name: "east", Namespaces: []string{"ns1"}, APIVersion: config.DefaultAPIVersion},
		config.Connection{Name: "west", Namespaces: []string{"ns1"}, APIVersion: config.DefaultAPIVersion},
	)

	graph, err := NewDriver(cfg, fakeFactory(client), nil).Build(context.Background())
	require.NoError(t, err)
	require.Contains(t, graph.Groups(), "east")
	require.Contains(t, graph.Groups(), "west")
}
