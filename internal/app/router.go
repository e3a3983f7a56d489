package app

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"kv-inventory.io/kvinv/internal/api/middleware"
	"kv-inventory.io/kvinv/internal/pkg/logger"
)

func newRouter(a *App) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	router.Use(cors.Default())

	router.GET("/healthz", handleHealth)
	router.GET("/api/v1/inventory", a.handleInventory)
	router.Any("/log/level", gin.WrapH(logger.HTTPHandler()))

	return router
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleInventory recomputes the inventory on every request; the source of
// truth is the cluster, not this process.
func (a *App) handleInventory(c *gin.Context) {
	graph, err := a.BuildInventory(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, graph.Export())
}
