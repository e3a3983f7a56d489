// Package provider binds the inventory source and VM tool to the Kubernetes
// and KubeVirt APIs.
package provider

import (
	"context"

	k8smetav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	kubevirtv1 "kubevirt.io/api/core/v1"

	"kv-inventory.io/kvinv/internal/config"
)

// Client abstracts one cluster connection.
// Anti-Corruption Layer: decouples the inventory driver and VM runner from
// kubevirt.io/client-go/kubecli; the kubecli binding lives in the adapter.
type Client interface {
	// Host returns the API server URL of this connection, used to derive a
	// default connection name.
	Host() string

	// ListNamespaces lists all namespaces the connection may read.
	ListNamespaces(ctx context.Context) ([]string, error)

	// ListVMIs lists the VirtualMachineInstances of one namespace under the
	// given KubeVirt apiVersion, optionally server-side filtered by a label
	// selector.
	ListVMIs(ctx context.Context, namespace, apiVersion, labelSelector string) ([]kubevirtv1.VirtualMachineInstance, error)

	// ClusterBaseDomain returns the cluster DNS base domain, best effort:
	// absence is not an error and yields "".
	ClusterBaseDomain(ctx context.Context) string

	// VM exposes VirtualMachine operations for the create/delete runner.
	VM() VirtualMachineClient
}

// VirtualMachineClient abstracts KubeVirt VM operations used by the runner.
type VirtualMachineClient interface {
	Get(ctx context.Context, namespace, name string, opts k8smetav1.GetOptions) (*kubevirtv1.VirtualMachine, error)
	Create(ctx context.Context, namespace string, vm *kubevirtv1.VirtualMachine, opts k8smetav1.CreateOptions) (*kubevirtv1.VirtualMachine, error)
	Delete(ctx context.Context, namespace, name string, opts k8smetav1.DeleteOptions) error
	Patch(ctx context.Context, namespace, name string, pt types.PatchType, data []byte, opts k8smetav1.PatchOptions) (*kubevirtv1.VirtualMachine, error)
}

// Factory creates a Client for one configured connection.
type Factory func(conn config.Connection) (Client, error)
