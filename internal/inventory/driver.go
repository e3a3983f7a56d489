package inventory

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"kv-inventory.io/kvinv/internal/config"
	"kv-inventory.io/kvinv/internal/pkg/logger"
	"kv-inventory.io/kvinv/internal/pkg/worker"
	"kv-inventory.io/kvinv/internal/provider"
)

// Driver resolves connections and namespaces, fetches VMI lists through the
// provider client and projects them into one shared graph. Namespace
// projections of a connection fan out over the worker pool; the graph
// serializes its own writes.
type Driver struct {
	cfg     *config.Config
	factory provider.Factory
	pool    *worker.Pool
}

// NewDriver creates a Driver. factory defaults to the kubecli-backed client.
func NewDriver(cfg *config.Config, factory provider.Factory, pool *worker.Pool) *Driver {
	if factory == nil {
		factory = provider.NewClient
	}
	return &Driver{cfg: cfg, factory: factory, pool: pool}
}

// Build runs the full inventory pass and returns the resulting graph.
// A namespace-list or VMI-list failure aborts the run; there are no partial
// namespace results.
func (d *Driver) Build(ctx context.Context) (*Graph, error) {
	graph := NewGraph()

	connections := d.cfg.Connections
	if len(connections) == 0 {
		// No connections configured: default kubeconfig, active context,
		// all accessible namespaces.
		connections = []config.Connection{{APIVersion: config.DefaultAPIVersion}}
	}

	for i := range connections {
		if err := d.buildConnection(ctx, graph, connections[i]); err != nil {
			return nil, err
		}
	}
	return graph, nil
}

func (d *Driver) buildConnection(ctx context.Context, graph *Graph, conn config.Connection) error {
	client, err := d.factory(conn)
	if err != nil {
		return err
	}

	name := conn.Name
	if name == "" {
		name = defaultConnectionName(client.Host())
	}

	opts := Options{
		APIVersion:       conn.APIVersion,
		NetworkName:      conn.Network(),
		HostFormat:       d.cfg.HostFormat,
		LabelSelector:    conn.LabelSelector,
		KubeSecondaryDNS: conn.KubeSecondaryDNS,
		BaseDomain:       conn.BaseDomain,
	}
	if opts.KubeSecondaryDNS && opts.BaseDomain == "" {
		opts.BaseDomain = client.ClusterBaseDomain(ctx)
	}

	namespaces := conn.Namespaces
	if len(namespaces) == 0 {
		namespaces, err = client.ListNamespaces(ctx)
		if err != nil {
			return err
		}
	}

	logger.Debug("Projecting connection",
		zap.String("connection", name),
		zap.Int("namespaces", len(namespaces)),
		zap.String("api_version", opts.APIVersion),
	)

	if d.pool == nil {
		for _, namespace := range namespaces {
			if err := d.projectOne(ctx, graph, client, name, namespace, opts); err != nil {
				return err
			}
		}
		return nil
	}

	results := make(chan error, len(namespaces))
	submitted := 0
	var submitErr error
	for _, namespace := range namespaces {
		namespace := namespace
		submitErr = d.pool.Submit(ctx, func(ctx context.Context) {
			results <- d.projectOne(ctx, graph, client, name, namespace, opts)
		})
		if submitErr != nil {
			break
		}
		submitted++
	}

	var firstErr error
	for i := 0; i < submitted; i++ {
		select {
		case err := <-results:
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return submitErr
}

func (d *Driver) projectOne(ctx context.Context, graph *Graph, client provider.Client, connectionName, namespace string, opts Options) error {
	vmis, err := client.ListVMIs(ctx, namespace, opts.APIVersion, opts.LabelSelector)
	if err != nil {
		return err
	}
	return ProjectNamespace(graph, connectionName, namespace, vmis, opts)
}

// defaultConnectionName derives a connection name from the API server URL
// when the connection has no explicit name.
func defaultConnectionName(host string) string {
	name := strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	name = strings.ReplaceAll(name, ".", "-")
	name = strings.ReplaceAll(name, ":", "_")
	return name
}
