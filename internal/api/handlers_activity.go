package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerline/activity-service/internal/api/respond"
	"github.com/ledgerline/activity-service/internal/api/validate"
	"github.com/ledgerline/activity-service/internal/model"
	"github.com/ledgerline/activity-service/internal/services"
)

// ActivityHandler serves the listing, ingest and smart-search endpoints.
type ActivityHandler struct {
	svc *services.ActivityService
	log zerolog.Logger
}

func NewActivityHandler(svc *services.ActivityService, log zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{svc: svc, log: log}
}

// ListActivities handles GET /api/activities.
// Store trouble never turns into a 5xx here: the service degrades the page
// and the response stays 200 with meta.degraded set.
func (h *ActivityHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id == nil {
		respond.WriteUnauthorized(w, "missing identity")
		return
	}

	page, err := h.svc.List(r.Context(), parseListRequest(r, id.OwnerID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, page)
}

// SearchActivities handles GET /api/activities/search?q=...
func (h *ActivityHandler) SearchActivities(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id == nil {
		respond.WriteUnauthorized(w, "missing identity")
		return
	}

	page, err := h.svc.Search(r.Context(), id.OwnerID, r.URL.Query().Get("q"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, page)
}

type createActivityRequest struct {
	Type             string          `json:"type"`
	Status           string          `json:"status"`
	Description      string          `json:"description"`
	AmountMinorUnits int64           `json:"amountMinorUnits"`
	Currency         string          `json:"currency"`
	Source           string          `json:"source"`
	IP               string          `json:"ip"`
	UserAgent        string          `json:"userAgent"`
	Audit            json.RawMessage `json:"audit"`
}

// CreateActivity handles POST /api/activities.
func (h *ActivityHandler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id == nil {
		respond.WriteUnauthorized(w, "missing identity")
		return
	}

	var body createActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if err := validate.ActivityType(body.Type); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := validate.Currency(body.Currency); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := validate.MaxLen("description", body.Description, 500); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	created, err := h.svc.Create(r.Context(), &model.Activity{
		OwnerID:          id.OwnerID,
		Type:             body.Type,
		Status:           body.Status,
		Description:      body.Description,
		AmountMinorUnits: body.AmountMinorUnits,
		Currency:         body.Currency,
		Source:           body.Source,
		IP:               body.IP,
		UserAgent:        body.UserAgent,
		Audit:            body.Audit,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, created)
}

func (h *ActivityHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		respond.WriteBadRequest(w, err.Error())
	case errors.Is(err, model.ErrNotFound):
		respond.WriteNotFound(w, "activity not found")
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respond.WriteInternalError(w, "internal error")
	}
}

// parseListRequest reads the filter dimensions from the query string.
// Query-shape problems (a malformed date, a non-numeric page) are dropped
// rather than rejected: the request proceeds as if the parameter was absent
// and the service applies its defaults.
func parseListRequest(r *http.Request, ownerID string) model.ListActivitiesRequest {
	q := r.URL.Query()

	pageSize := q.Get("pageSize")
	if pageSize == "" {
		pageSize = q.Get("page_size") // legacy spelling
	}

	return model.ListActivitiesRequest{
		OwnerID:  ownerID,
		ID:       parseID(q.Get("id")),
		Types:    splitCSV(q.Get("type")),
		Statuses: splitCSV(q.Get("status")),
		Sources:  splitCSV(q.Get("source")),
		Text:     strings.TrimSpace(q.Get("q")),
		From:     parseTime(q.Get("from")),
		To:       parseTime(q.Get("to")),
		Page:     parseInt(q.Get("page")),
		PageSize: parseInt(pageSize),
	}
}

// parseInt returns 0 (meaning "use the default") for anything non-numeric
// or negative.
func parseInt(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseID(v string) *int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// parseTime returns nil for anything that is not RFC3339.
func parseTime(v string) *time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
