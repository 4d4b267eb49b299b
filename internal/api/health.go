package api

import (
	"net/http"
	"time"

	"github.com/ledgerline/activity-service/internal/api/respond"
)

// HealthHandler reports cached service health. The probe functions are
// injected by the runner so the handler never blocks on dependencies.
type HealthHandler struct {
	serviceHealthy func() bool
	storeHealthy   func() bool
}

func NewHealthHandler(serviceHealthy, storeHealthy func() bool) *HealthHandler {
	if serviceHealthy == nil {
		serviceHealthy = func() bool { return false }
	}
	if storeHealthy == nil {
		storeHealthy = serviceHealthy
	}
	return &HealthHandler{serviceHealthy: serviceHealthy, storeHealthy: storeHealthy}
}

// CheckHealth handles GET /api/health.
// Always returns 200; the body carries healthy/unhealthy.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    statusWord(h.serviceHealthy()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// CheckStoreHealth handles GET /api/health/db.
func (h *HealthHandler) CheckStoreHealth(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    statusWord(h.storeHealthy()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func statusWord(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}
