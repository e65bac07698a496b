package contract

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ratescan/ratescan/pkg/handlers"
	"github.com/ratescan/ratescan/pkg/routes"
)

// Handler provides HTTP endpoints for contract management.
type Handler struct {
	sys    System
	logger *slog.Logger
}

// NewHandler creates a Handler with the given system and logger.
func NewHandler(sys System, logger *slog.Logger) *Handler {
	return &Handler{
		sys:    sys,
		logger: logger.With("handler", "contract"),
	}
}

// Routes returns the route group definition for contract endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/contracts",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "GET", Pattern: "/active", Handler: h.Active},
			{Method: "GET", Pattern: "/{name}/{version}", Handler: h.Find},
			{Method: "POST", Pattern: "", Handler: h.Create},
			{Method: "POST", Pattern: "/{name}/{version}/activate", Handler: h.Activate},
		},
	}
}

// List returns all contract versions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.sys.List(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, items)
}

// Active returns the currently active contract.
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	c, err := h.sys.Active(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, c.Contract)
}

// Find returns a specific contract version.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	ref, err := refFromPath(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	c, err := h.sys.Find(r.Context(), ref)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, c.Contract)
}

// Create registers a new contract version from a JSON body.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var cmd CreateCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	c, err := h.sys.Create(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, c)
}

// Activate makes the referenced contract version active.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	ref, err := refFromPath(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	c, err := h.sys.Activate(r.Context(), ref)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, c)
}

func refFromPath(r *http.Request) (Ref, error) {
	name := r.PathValue("name")
	if name == "" {
		return Ref{}, ErrInvalidName
	}

	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		return Ref{}, err
	}

	return Ref{Name: name, Version: version}, nil
}
