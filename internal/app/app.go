// Package app wires the inventory server mode together.
package app

import (
	"context"

	"github.com/gin-gonic/gin"

	"kv-inventory.io/kvinv/internal/config"
	"kv-inventory.io/kvinv/internal/inventory"
	"kv-inventory.io/kvinv/internal/pkg/worker"
	"kv-inventory.io/kvinv/internal/provider"
)

// App holds the wired components of the server mode.
type App struct {
	Router *gin.Engine

	driver *inventory.Driver
	pool   *worker.Pool
}

// Bootstrap builds the worker pool, driver and router.
func Bootstrap(cfg *config.Config, factory provider.Factory) (*App, error) {
	pool, err := worker.NewPool("namespaces", cfg.Worker.NamespacePoolSize)
	if err != nil {
		return nil, err
	}

	driver := inventory.NewDriver(cfg, factory, pool)

	a := &App{
		driver: driver,
		pool:   pool,
	}
	a.Router = newRouter(a)
	return a, nil
}

// BuildInventory runs a full inventory pass.
func (a *App) BuildInventory(ctx context.Context) (*inventory.Graph, error) {
	return a.driver.Build(ctx)
}

// Shutdown releases the worker pool.
func (a *App) Shutdown() {
	a.pool.Release()
}
