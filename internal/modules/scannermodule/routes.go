package scannermodule

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the scanner module routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	libraries := router.Group("/api/libraries")
	{
		libraries.GET("", m.listLibraries)
		libraries.POST("", m.createLibrary)
		libraries.GET("/:id", m.getLibrary)
		libraries.DELETE("/:id", m.deleteLibrary)
		libraries.GET("/:id/stats", m.getLibraryStats)
		libraries.POST("/:id/scan", m.startScan)
	}

	api := router.Group("/api/scanner")
	{
		// Scanner status
		api.GET("/status", m.getGeneralStatus)
		api.GET("/system", m.getSystemLoad)
		api.GET("/monitoring", m.getMonitoringStatus)

		// Scan job management
		api.GET("/jobs", m.listScanJobs)
		api.POST("/cancel-all", m.cancelAllScans)

		// Individual scan job operations
		api.GET("/jobs/:id", m.getScanStatus)
		api.DELETE("/jobs/:id", m.cancelScan)
		api.POST("/jobs/:id/pause", m.pauseScan)
		api.POST("/jobs/:id/resume", m.resumeScan)

		// Real-time scan progress
		api.GET("/progress/:id", m.getScanProgress)
		api.GET("/ws", m.progressHub.HandleWebSocket)
	}
}
