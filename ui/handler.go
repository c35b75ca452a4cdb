package ui

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/boris-v/pg-boss/pkg/core"
)

// Handler returns the status API router:
//
//	GET /api/queues                     all queues with sizes
//	GET /api/queues/{name}              one queue
//	GET /api/queues/{name}/jobs/{id}    one job (archive included)
//	GET /api/workers                    worker snapshots
func Handler(svc Service) http.Handler {
	r := chi.NewRouter()

	r.Get("/api/queues", func(w http.ResponseWriter, req *http.Request) {
		queues, err := svc.GetQueues(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		views := make([]queueView, 0, len(queues))
		for _, q := range queues {
			size, err := svc.GetQueueSize(req.Context(), q.Name, nil)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			views = append(views, queueView{Queue: q, Size: size})
		}
		writeJSON(w, http.StatusOK, views)
	})

	r.Get("/api/queues/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		q, err := svc.GetQueue(req.Context(), name)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if q == nil {
			writeError(w, http.StatusNotFound, core.ErrQueueNotFound)
			return
		}

		size, err := svc.GetQueueSize(req.Context(), name, nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, queueView{Queue: q, Size: size})
	})

	r.Get("/api/queues/{name}/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		id, err := uuid.Parse(chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid job id"))
			return
		}

		job, err := svc.GetJobByID(req.Context(), name, id, true)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if job == nil {
			writeError(w, http.StatusNotFound, core.ErrJobNotFound)
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	r.Get("/api/workers", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, svc.Workers())
	})

	return r
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrQueueNotFound), errors.Is(err, core.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidQueueName), errors.Is(err, core.ErrReservedQueueName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
