package provider

import (
	"context"
	"os"
	"strconv"

	k8smetav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	kubevirtv1 "kubevirt.io/api/core/v1"
	"kubevirt.io/client-go/kubecli"

	"kv-inventory.io/kvinv/internal/config"
	apperrors "kv-inventory.io/kvinv/internal/pkg/errors"
)

// openshiftDNSResource identifies the cluster DNS config object carrying the
// base domain, read best effort for secondary-DNS host names.
var openshiftDNSResource = schema.GroupVersionResource{
	Group:    "config.openshift.io",
	Version:  "v1",
	Resource: "dnses",
}

// NewClient builds a Client from one connection's settings. Credential
// fields left empty fall back to their K8S_AUTH_* environment variables;
// with no explicit settings at all the default kubeconfig and active context
// are used.
func NewClient(conn config.Connection) (Client, error) {
	restCfg, err := restConfig(conn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeClientBuild, "build REST config", 502)
	}

	virtClient, err := kubecli.GetKubevirtClientFromRESTConfig(restCfg)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeClientBuild, "build kubevirt client", 502)
	}

	k8sClient, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeClientBuild, "build kubernetes client", 502)
	}

	dynClient, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeClientBuild, "build dynamic client", 502)
	}

	return &clusterClient{
		host: restCfg.Host,
		virt: virtClient,
		k8s:  k8sClient,
		dyn:  dynClient,
	}, nil
}

// restConfig resolves connection settings into a rest.Config. Direct host
// credentials take precedence over kubeconfig loading.
func restConfig(conn config.Connection) (*rest.Config, error) {
	host := envFallback(conn.Host, "K8S_AUTH_HOST")
	if host != "" {
		cfg := &rest.Config{
			Host:        host,
			BearerToken: envFallback(conn.APIKey, "K8S_AUTH_API_KEY"),
			Username:    envFallback(conn.Username, "K8S_AUTH_USERNAME"),
			Password:    envFallback(conn.Password, "K8S_AUTH_PASSWORD"),
			TLSClientConfig: rest.TLSClientConfig{
				CertFile: envFallback(conn.ClientCert, "K8S_AUTH_CERT_FILE"),
				KeyFile:  envFallback(conn.ClientKey, "K8S_AUTH_KEY_FILE"),
				CAFile:   envFallback(conn.CACert, "K8S_AUTH_SSL_CA_CERT"),
				Insecure: !validateCerts(conn),
			},
		}
		return cfg, nil
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig := envFallback(conn.Kubeconfig, "K8S_AUTH_KUBECONFIG"); kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{
		CurrentContext: envFallback(conn.Context, "K8S_AUTH_CONTEXT"),
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
}

func envFallback(value, envVar string) string {
	if value != "" {
		return value
	}
	return os.Getenv(envVar)
}

func validateCerts(conn config.Connection) bool {
	if conn.ValidateCerts != nil {
		return *conn.ValidateCerts
	}
	if raw := os.Getenv("K8S_AUTH_VERIFY_SSL"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return true
}

type clusterClient struct {
	host string
	virt kubecli.KubevirtClient
	k8s  kubernetes.Interface
	dyn  dynamic.Interface
}

func (c *clusterClient) Host() string { return c.host }

func (c *clusterClient) ListNamespaces(ctx context.Context) ([]string, error) {
	list, err := c.k8s.CoreV1().Namespaces().List(ctx, k8smetav1.ListOptions{})
	if err != nil {
		return nil, WrapAPIError("namespace list", err)
	}
	names := make([]string, 0, len(list.Items))
	for i := range list.Items {
		names = append(names, list.Items[i].Name)
	}
	return names, nil
}

func (c *clusterClient) ListVMIs(ctx context.Context, namespace, apiVersion, labelSelector string) ([]kubevirtv1.VirtualMachineInstance, error) {
	opts := k8smetav1.ListOptions{LabelSelector: labelSelector}

	if apiVersion == "" || apiVersion == config.DefaultAPIVersion {
		list, err := c.virt.VirtualMachineInstance(namespace).List(ctx, opts)
		if err != nil {
			return nil, WrapAPIError("VirtualMachineInstance list", err)
		}
		return list.Items, nil
	}

	// Non-default KubeVirt API versions go through the dynamic client.
	gv, err := schema.ParseGroupVersion(apiVersion)
	if err != nil {
		return nil, apperrors.ErrConfigInvalidf("invalid api_version " + apiVersion)
	}
	gvr := gv.WithResource("virtualmachineinstances")
	list, err := c.dyn.Resource(gvr).Namespace(namespace).List(ctx, opts)
	if err != nil {
		return nil, WrapAPIError("VirtualMachineInstance list", err)
	}

	items := make([]kubevirtv1.VirtualMachineInstance, 0, len(list.Items))
	for i := range list.Items {
		var vmi kubevirtv1.VirtualMachineInstance
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(list.Items[i].Object, &vmi); err != nil {
			return nil, WrapAPIError("VirtualMachineInstance decode", err)
		}
		items = append(items, vmi)
	}
	return items, nil
}

func (c *clusterClient) ClusterBaseDomain(ctx context.Context) string {
	obj, err := c.dyn.Resource(openshiftDNSResource).Get(ctx, "cluster", k8smetav1.GetOptions{})
	if err != nil {
		return ""
	}
	spec, ok := obj.Object["spec"].(map[string]interface{})
	if !ok {
		return ""
	}
	domain, _ := spec["baseDomain"].(string)
	return domain
}

func (c *clusterClient) VM() VirtualMachineClient {
	return &vmClient{virt: c.virt}
}

type vmClient struct {
	virt kubecli.KubevirtClient
}

func (c *vmClient) Get(ctx context.Context, namespace, name string, opts k8smetav1.GetOptions) (*kubevirtv1.VirtualMachine, error) {
	return c.virt.VirtualMachine(namespace).Get(ctx, name, opts)
}

func (c *vmClient) Create(ctx context.Context, namespace string, vm *kubevirtv1.VirtualMachine, opts k8smetav1.CreateOptions) (*kubevirtv1.VirtualMachine, error) {
	return c.virt.VirtualMachine(namespace).Create(ctx, vm, opts)
}

func (c *vmClient) Delete(ctx context.Context, namespace, name string, opts k8smetav1.DeleteOptions) error {
	return c.virt.VirtualMachine(namespace).Delete(ctx, name, opts)
}

func (c *vmClient) Patch(ctx context.Context, namespace, name string, pt types.PatchType, data []byte, opts k8smetav1.PatchOptions) (*kubevirtv1.VirtualMachine, error) {
	return c.virt.VirtualMachine(namespace).Patch(ctx, name, pt, data, opts)
}
