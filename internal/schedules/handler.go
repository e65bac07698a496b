package schedules

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ratescan/ratescan/pkg/handlers"
	"github.com/ratescan/ratescan/pkg/pagination"
	"github.com/ratescan/ratescan/pkg/routes"
)

// Handler provides HTTP endpoints for schedule operations. Schedules
// and their evidence and extraction versions are written by the
// pipeline; the API exposes them read-only, plus a manual re-extract.
type Handler struct {
	sys        System
	logger     *slog.Logger
	pagination pagination.Config
}

// SearchRequest combines pagination and filter criteria for the search endpoint.
type SearchRequest struct {
	pagination.PageRequest
	Filters
}

func NewHandler(sys System, logger *slog.Logger, pagination pagination.Config) *Handler {
	return &Handler{
		sys:        sys,
		logger:     logger.With("handler", "schedules"),
		pagination: pagination,
	}
}

// Routes returns the route group definition for schedule endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/schedules",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
			{Method: "GET", Pattern: "/{id}/evidence", Handler: h.LatestEvidence},
			{Method: "GET", Pattern: "/{id}/evidence/{version}", Handler: h.Evidence},
			{Method: "GET", Pattern: "/{id}/extractions", Handler: h.Extractions},
			{Method: "GET", Pattern: "/{id}/extractions/{version}", Handler: h.Extraction},
			{Method: "GET", Pattern: "/{id}/current", Handler: h.Current},
			{Method: "POST", Pattern: "/search", Handler: h.Search},
			{Method: "POST", Pattern: "/{id}/extract", Handler: h.Reextract},
		},
	}
}

// List returns a paginated list of schedules with optional query parameter filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := FiltersFromQuery(r.URL.Query())

	result, err := h.sys.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Find returns a single schedule by its UUID path parameter.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	s, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, s)
}

// Search accepts a JSON body with pagination and filter criteria and returns matching schedules.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	req.PageRequest.Normalize(h.pagination)

	result, err := h.sys.List(r.Context(), req.PageRequest, req.Filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// LatestEvidence returns the newest evidence version for a schedule.
func (h *Handler) LatestEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	rt, err := h.sys.LatestEvidence(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, rt)
}

// Evidence returns one stored evidence version for a schedule.
func (h *Handler) Evidence(w http.ResponseWriter, r *http.Request) {
	id, version, err := pathTarget(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	rt, err := h.sys.Evidence(r.Context(), id, version)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, rt)
}

// Extractions returns all extraction attempts for a schedule, newest first.
func (h *Handler) Extractions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	exts, err := h.sys.Extractions(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, exts)
}

// Extraction returns one extraction version for a schedule.
func (h *Handler) Extraction(w http.ResponseWriter, r *http.Request) {
	id, version, err := pathTarget(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	e, err := h.sys.Extraction(r.Context(), id, version)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, e)
}

// Current returns the extraction the schedule's current version points at.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	e, err := h.sys.Current(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, e)
}

// Reextract dispatches a fresh extract job against the schedule's latest evidence.
func (h *Handler) Reextract(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	job, err := h.sys.Reextract(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusAccepted, job)
}

func pathTarget(r *http.Request) (uuid.UUID, int, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, 0, ErrInvalidID
	}

	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		return uuid.Nil, 0, ErrInvalidVersion
	}

	return id, version, nil
}
