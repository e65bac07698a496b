package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ratescan/ratescan/pkg/handlers"
	"github.com/ratescan/ratescan/pkg/queue"
	"github.com/ratescan/ratescan/pkg/routes"
)

const defaultDeadLetterLimit = 50

var errInvalidLimit = errors.New("limit must be a positive integer")

// queueHandler exposes operational endpoints for the work queue: depth
// stats per stage consumer, the dead-letter listing, and manual redrive.
type queueHandler struct {
	queue     queue.System
	consumers []queue.Consumer
	logger    *slog.Logger
}

func newQueueHandler(q queue.System, consumers []queue.Consumer, logger *slog.Logger) *queueHandler {
	return &queueHandler{
		queue:     q,
		consumers: consumers,
		logger:    logger.With("handler", "queue"),
	}
}

func (h *queueHandler) routes() routes.Group {
	return routes.Group{
		Prefix: "/queue",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/stats", Handler: h.stats},
			{Method: "GET", Pattern: "/dead-letters", Handler: h.deadLetters},
			{Method: "POST", Pattern: "/dead-letters/{id}/redrive", Handler: h.redrive},
		},
	}
}

func (h *queueHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats := make([]queue.ConsumerStats, 0, len(h.consumers))
	for _, c := range h.consumers {
		s, err := h.queue.Stats(r.Context(), c)
		if err != nil {
			handlers.RespondError(w, h.logger, queue.MapHTTPStatus(err), err)
			return
		}
		stats = append(stats, s)
	}

	handlers.RespondJSON(w, http.StatusOK, stats)
}

func (h *queueHandler) deadLetters(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeadLetterLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidLimit)
			return
		}
		limit = n
	}

	letters, err := h.queue.DeadLetters(r.Context(), limit)
	if err != nil {
		handlers.RespondError(w, h.logger, queue.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, letters)
}

func (h *queueHandler) redrive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	messageID, err := h.queue.Redrive(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, queue.MapHTTPStatus(err), err)
		return
	}

	h.logger.Info("dead letter redriven", "dead_letter_id", id, "message_id", messageID)
	handlers.RespondJSON(w, http.StatusOK, redriveResponse{MessageID: messageID})
}

type redriveResponse struct {
	MessageID uuid.UUID `json:"message_id"`
}
