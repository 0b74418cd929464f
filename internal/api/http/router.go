package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(healthController *HealthController) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/health", healthController.Health)
	router.Get("/ready", healthController.Ready)
	router.Get("/status", healthController.Status)

	return router
}
