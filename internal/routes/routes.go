package routes

import (
	ginlog "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"

	"visit_tracker/internal/controllers"
)

// SetupRouter wires every route group onto one engine. The controllers
// arrive pre-built so tests can assemble routers around fakes.
func SetupRouter(vc *controllers.VisitController, sc *controllers.SocketController) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ginlog.SetLogger())

	AuthRoutes(r)
	VisitRoutes(r, vc)
	WebSocketRoutes(r, sc)

	return r
}
