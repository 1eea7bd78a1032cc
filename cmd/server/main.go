package main

import (
	"log"
	"net/http"

	"visit_tracker/internal/config"
	"visit_tracker/internal/controllers"
	"visit_tracker/internal/hub"
	"visit_tracker/internal/logger"
	"visit_tracker/internal/middleware"
	"visit_tracker/internal/notify"
	"visit_tracker/internal/routes"
	"visit_tracker/internal/visits"
)

func main() {
	// Initialize structured logging to file
	logger.Setup()

	// Connect to the database
	config.InitDB()

	store := visits.NewGormStore(config.GetDB())
	ledger := notify.NewLedger(store,
		notify.LogSender{Channel: "push"},
		notify.LogSender{Channel: "email"},
	)

	h := hub.NewHub(middleware.Identity{})
	svc := visits.NewService(store, ledger, h)
	h.BindService(svc)
	h.Start()
	defer h.Stop()

	vc := controllers.NewVisitController(svc)
	sc := controllers.NewSocketController(h)

	// Setup Gin router
	r := routes.SetupRouter(vc, sc)

	// Wrap with CORS
	handler := middleware.EnableCORS(r)

	log.Println("🚀 Server running at :8080")
	log.Fatal(http.ListenAndServe("0.0.0.0:8080", handler))
}
