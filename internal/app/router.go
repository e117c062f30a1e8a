package app

import (
	"net/http"

	"gitmetrics-service/internal/response"

	"github.com/gorilla/mux"
)

// initializeRouter configures all routes for the application
func (a *App) initializeRouter(router *mux.Router) {
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusNotFound, response.Error("Route not found"))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusMethodNotAllowed, response.Error("Method not allowed"))
	})

	router.Use(a.loggingMiddleware)
	router.Use(a.recoveryMiddleware)

	router.HandleFunc("/", a.healthCheck).Methods(http.MethodGet)
	router.HandleFunc("/health", a.healthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", a.healthCheck).Methods(http.MethodGet)

	initRepositoryRoutes(api.PathPrefix("/repositories").Subrouter(), a)
	initAnalyticsRoutes(api.PathPrefix("/analytics").Subrouter(), a)
	initPlatformRoutes(api.PathPrefix("/platforms").Subrouter(), a)

	api.HandleFunc("/sync", a.syncAll).Methods(http.MethodPost)
	api.HandleFunc("/cache", a.invalidateCache).Methods(http.MethodDelete)
}

// initRepositoryRoutes configures all repository-related routes
func initRepositoryRoutes(router *mux.Router, a *App) {
	router.HandleFunc("", a.listRepositories).Methods(http.MethodGet)
	router.HandleFunc("", a.registerRepository).Methods(http.MethodPost)
	router.HandleFunc("/{id:[0-9]+}", a.getRepository).Methods(http.MethodGet)
	router.HandleFunc("/{id:[0-9]+}", a.removeRepository).Methods(http.MethodDelete)
	router.HandleFunc("/{id:[0-9]+}/active", a.setRepositoryActive).Methods(http.MethodPut)
	router.HandleFunc("/{id:[0-9]+}/sync", a.syncRepository).Methods(http.MethodPost)
	router.HandleFunc("/{id:[0-9]+}/sync/status", a.getSyncStatus).Methods(http.MethodGet)
}

// initAnalyticsRoutes configures all analytics-related routes
func initAnalyticsRoutes(router *mux.Router, a *App) {
	router.HandleFunc("/overview", a.getOverview).Methods(http.MethodGet)
	router.HandleFunc("/commits", a.getCommitStats).Methods(http.MethodGet)
	router.HandleFunc("/merge-requests", a.getMergeRequestStats).Methods(http.MethodGet)
	router.HandleFunc("/efficiency", a.getEfficiencyScore).Methods(http.MethodGet)
	router.HandleFunc("/time-distribution", a.getTimeDistribution).Methods(http.MethodGet)
}

// initPlatformRoutes configures platform discovery routes
func initPlatformRoutes(router *mux.Router, a *App) {
	router.HandleFunc("/{platform}/connection", a.testConnection).Methods(http.MethodGet)
	router.HandleFunc("/{platform}/repositories", a.discoverRepositories).Methods(http.MethodGet)
}

// loggingMiddleware logs information about each request
func (a *App) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Msg("Incoming request")

		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and returns a 500 error
func (a *App) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				a.log.Error().
					Interface("error", err).
					Str("path", r.URL.Path).
					Msg("Panic recovered in request handler")

				response.JSON(w, http.StatusInternalServerError, response.Error("Internal server error"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
