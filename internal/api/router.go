package api

import (
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ledgerline/activity-service/internal/api/recovery"
	"github.com/ledgerline/activity-service/internal/auth"
	"github.com/ledgerline/activity-service/internal/feed"
	"github.com/ledgerline/activity-service/internal/services"
)

// RouterDeps carries everything the HTTP surface needs.
type RouterDeps struct {
	Service        *services.ActivityService
	Registry       *feed.Registry
	Authorizer     auth.Authorizer
	ServiceHealthy func() bool
	StoreHealthy   func() bool
	KeepAlive      time.Duration
	Log            zerolog.Logger
}

// NewRouter builds the full route table. Health endpoints are public; every
// activity route sits behind the auth middleware.
func NewRouter(deps RouterDeps) *mux.Router {
	router := mux.NewRouter()
	router.Use(recovery.Middleware)

	healthHandler := NewHealthHandler(deps.ServiceHealthy, deps.StoreHealthy)
	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	router.HandleFunc("/api/health/db", healthHandler.CheckStoreHealth).Methods("GET")

	activityHandler := NewActivityHandler(deps.Service, deps.Log)
	streamHandler := NewStreamHandler(deps.Registry, deps.KeepAlive, deps.Log)

	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(AuthMiddleware(deps.Authorizer))
	protected.HandleFunc("/activities", activityHandler.ListActivities).Methods("GET")
	protected.HandleFunc("/activities", activityHandler.CreateActivity).Methods("POST")
	protected.HandleFunc("/activities/search", activityHandler.SearchActivities).Methods("GET")
	protected.HandleFunc("/activities/stream", streamHandler.Stream).Methods("GET")

	return router
}
