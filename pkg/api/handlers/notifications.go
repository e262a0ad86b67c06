package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/statorq/statorq/internal/logger"
	"github.com/statorq/statorq/pkg/models"
)

// NotificationsHandler exposes the delivery endpoints: the periodic dispatch
// pass, targeted single and batch sends, and marking notifications read.
type NotificationsHandler struct {
	deps Deps
}

// NewNotificationsHandler creates a new notifications handler.
func NewNotificationsHandler(deps Deps) *NotificationsHandler {
	return &NotificationsHandler{deps: deps}
}

// Dispatch handles POST /notifications/dispatch.
//
// Runs one executor pass over the due, unsent, unread dispatch rows and
// responds 200 with the pass report. Cron-driven deployments hit this
// endpoint on their batching schedule.
func (h *NotificationsHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Executor.Run(r.Context())
	if err != nil {
		logger.ErrorCtx(r.Context(), "Notification dispatch pass failed", logger.KeyError, err)
		InternalServerError(w, "Dispatch pass failed")
		return
	}
	WriteJSONOK(w, report)
}

// singleParams is the POST /notifications/single request body.
type singleParams struct {
	DispatchID int64 `json:"notification_dispatch_id"`
}

// sendResponse reports how many rows a targeted send delivered.
type sendResponse struct {
	Sent int `json:"sent"`
}

// Single handles POST /notifications/single.
//
// Delivers one dispatch row through its channel's single endpoint. Rows
// already stamped sent are left alone and reported as zero sends.
func (h *NotificationsHandler) Single(w http.ResponseWriter, r *http.Request) {
	var params singleParams
	if !decodeJSONBody(w, r, &params) {
		return
	}
	if params.DispatchID <= 0 {
		BadRequest(w, "notification_dispatch_id is required")
		return
	}

	ctx := r.Context()
	sent := 0

	err := h.deps.Store.Transaction(ctx, func(tx models.Store) error {
		dispatch, err := tx.GetDispatch(ctx, params.DispatchID)
		if err != nil {
			return err
		}
		if dispatch.Sent != nil {
			return nil
		}
		if err := h.deps.Executor.SendDispatch(ctx, tx, dispatch); err != nil {
			return err
		}
		sent = 1
		return nil
	})
	switch {
	case errors.Is(err, models.ErrDispatchNotFound):
		NotFound(w, "Unknown notification dispatch")
		return
	case err != nil:
		logger.ErrorCtx(ctx, "Single notification send failed",
			logger.KeyDispatchID, params.DispatchID,
			logger.KeyError, err)
		WriteProblem(w, http.StatusBadGateway, "Bad Gateway", "Delivery failed")
		return
	}

	WriteJSONOK(w, sendResponse{Sent: sent})
}

// batchParams is the POST /notifications/batch request body.
type batchParams struct {
	UserID      int64   `json:"user_id"`
	Channel     string  `json:"channel"`
	DispatchIDs []int64 `json:"notification_dispatch_ids"`
}

// Batch handles POST /notifications/batch.
//
// Delivers the identified dispatch rows as one user/channel group through the
// channel's batch endpoint, falling back to sequential single sends when the
// channel has none.
func (h *NotificationsHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var params batchParams
	if !decodeJSONBody(w, r, &params) {
		return
	}
	if params.UserID <= 0 || params.Channel == "" || len(params.DispatchIDs) == 0 {
		BadRequest(w, "user_id, channel and notification_dispatch_ids are required")
		return
	}

	ctx := r.Context()
	sent := 0

	err := h.deps.Store.Transaction(ctx, func(tx models.Store) error {
		var err error
		sent, err = h.deps.Executor.SendGroup(ctx, tx, params.UserID, params.Channel, params.DispatchIDs)
		return err
	})
	switch {
	case errors.Is(err, models.ErrDispatchNotFound):
		NotFound(w, "Unknown notification dispatch")
		return
	case err != nil:
		logger.ErrorCtx(ctx, "Batch notification send failed",
			logger.KeyUserID, params.UserID,
			logger.KeyChannel, params.Channel,
			logger.KeyError, err)
		WriteProblem(w, http.StatusBadGateway, "Bad Gateway", "Delivery failed")
		return
	}

	WriteJSONOK(w, sendResponse{Sent: sent})
}

// Read handles POST /notifications/{id}/read.
//
// Marks the notification read, which excludes its pending dispatches from
// future delivery passes. Idempotent: re-reading is a no-op 204.
func (h *NotificationsHandler) Read(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		BadRequest(w, "Invalid notification id")
		return
	}

	err = h.deps.Store.MarkRead(r.Context(), id, nowUTC())
	if errors.Is(err, models.ErrNotificationNotFound) {
		NotFound(w, "Unknown notification")
		return
	}
	if err != nil {
		InternalServerError(w, "Failed to mark notification read")
		return
	}
	WriteNoContent(w)
}
