package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(apiHandler *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", apiHandler.HandleWebSocket)
	r.Get("/healthz", apiHandler.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", apiHandler.HandleSnapshot)
		r.Get("/channels/{kind}/{id}", apiHandler.HandleChannel)
		r.Post("/channels/{kind}/{id}/auto-range", apiHandler.HandleToggleAutoRange)
		r.Post("/channels/{kind}/{id}/filters/{stage}", apiHandler.HandleToggleFilter)
		r.Get("/images/{id}", apiHandler.HandleImage)
		r.Get("/audio", apiHandler.HandleAudio)
		r.Get("/recordings", apiHandler.HandleRecordings)

		r.Post("/commands", apiHandler.HandleCommand)
		r.Post("/streaming/{action}", apiHandler.HandleStreaming)
		r.Get("/recording", apiHandler.HandleRecordingStatus)
		r.Post("/recording/start", apiHandler.HandleStartRecording)
		r.Post("/recording/stop", apiHandler.HandleStopRecording)
		r.Post("/patients/clear", apiHandler.HandleClearPatients)
	})

	return r
}
