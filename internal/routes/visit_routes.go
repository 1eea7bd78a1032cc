package routes

import (
	"github.com/gin-gonic/gin"

	"visit_tracker/internal/controllers"
	"visit_tracker/internal/middleware"
)

func VisitRoutes(r *gin.Engine, vc *controllers.VisitController) {
	visits := r.Group("/visits")
	visits.Use(middleware.RequireAuth())
	{
		visits.POST("/", vc.CreateVisit)
		visits.GET("/active", vc.ListActive)
		visits.GET("/nearby", vc.Nearby)
		visits.GET("/overdue", middleware.RequireAuthWithRole("admin"), vc.ListOverdue)
		visits.GET("/:id", vc.GetVisit)
		visits.POST("/:id/location", vc.ReportLocation)
		visits.PUT("/:id/status", vc.SetStatus)
		visits.POST("/:id/complete", vc.Complete)
		visits.POST("/:id/cancel", vc.Cancel)
	}
}
