package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mailqueue/pkg/logger"
	"github.com/dmitrymomot/mailqueue/pkg/mailqueue"
)

// maxDelayMinutes is the largest delay that fits in a time.Duration.
const maxDelayMinutes = math.MaxInt64 / int64(time.Minute)

type processResponse struct {
	mailqueue.CycleResult
	Processed int       `json:"processed"`
	RanAt     time.Time `json:"ran_at"`
}

func (h *handler) processEmails(w http.ResponseWriter, r *http.Request) {
	c := h.driver.Criteria(h.now().UTC())

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > h.maxLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be an integer between 1 and %d", h.maxLimit))
			return
		}
		c.BatchSize = n
	}
	if v := r.URL.Query().Get("delay_minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || int64(n) > maxDelayMinutes {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("delay_minutes must be an integer between 0 and %d", maxDelayMinutes))
			return
		}
		c.MinAge = time.Duration(n) * time.Minute
	}

	res, err := h.driver.RunCycle(r.Context(), c)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "on-demand dispatch cycle failed", logger.Error(err))
		if errors.Is(err, mailqueue.ErrInvalidCriteria) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "dispatch cycle failed")
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		CycleResult: res,
		Processed:   res.Attempted,
		RanAt:       c.Now,
	})
}

type statsResponse struct {
	mailqueue.Stats
	LastRun *time.Time `json:"last_run"`
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.driver.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to read queue stats", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	resp := statsResponse{Stats: st}
	if last, ok := h.driver.LastRun(); ok {
		resp.LastRun = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

type enqueueRequest struct {
	RecipientRef string          `json:"recipient_ref"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
}

type enqueueResponse struct {
	ID uuid.UUID `json:"id"`
}

const maxEnqueueBody = 1 << 20

func (h *handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnqueueBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		writeError(w, http.StatusBadRequest, mailqueue.ErrPayloadNil.Error())
		return
	}

	id, err := h.enqueuer.Enqueue(r.Context(), req.RecipientRef, mailqueue.Kind(req.Kind), req.Payload)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, enqueueResponse{ID: id})
	case errors.Is(err, mailqueue.ErrEmptyKind),
		errors.Is(err, mailqueue.ErrUnknownKind),
		errors.Is(err, mailqueue.ErrPayloadNil),
		errors.Is(err, mailqueue.ErrPayloadNotObject):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "failed to enqueue message",
			logger.Kind(req.Kind),
			logger.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue message")
	}
}
