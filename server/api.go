package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/voxlane/voxlane/auth"
	"github.com/voxlane/voxlane/schedule"
	"github.com/voxlane/voxlane/server/middleware"
	"github.com/voxlane/voxlane/store"
)

// API carries the handler dependencies.
type API struct {
	manager  *schedule.Manager
	authSvc  *auth.Service
	audioDir string
	events   *EventStream

	log *logrus.Entry
}

func NewAPI(manager *schedule.Manager, authSvc *auth.Service, audioDir string) *API {
	return &API{
		manager:  manager,
		authSvc:  authSvc,
		audioDir: audioDir,
		events:   NewEventStream(manager.Dispatcher().Events()),
		log:      logrus.WithField("component", "api"),
	}
}

// Routes builds the full route table. Auth routes are gated on the Admin
// permission; transcribe is gated on Transcribe; the schedule surface is
// open per the deployment model (fronted by the credential gate upstream or
// bound to localhost).
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /asr/transcribe",
		middleware.RequirePermission(a.authSvc, auth.PermissionTranscribe, a.handleTranscribe))

	mux.HandleFunc("POST /auth/api-keys",
		middleware.RequirePermission(a.authSvc, auth.PermissionAdmin, a.handleCreateKey))
	mux.HandleFunc("DELETE /auth/api-keys/{key}",
		middleware.RequirePermission(a.authSvc, auth.PermissionAdmin, a.handleRevokeKey))
	mux.HandleFunc("GET /auth/api-keys/{key}/stats",
		middleware.RequirePermission(a.authSvc, auth.PermissionAdmin, a.handleKeyStats))
	mux.HandleFunc("GET /auth/api-keys/{key}/usage-report",
		middleware.RequirePermission(a.authSvc, auth.PermissionAdmin, a.handleUsageReport))

	mux.HandleFunc("POST /schedule/tasks", a.handleSubmitTask)
	mux.HandleFunc("GET /schedule/tasks/stats", a.handleTaskStats)
	mux.Handle("GET /schedule/tasks/events", a.events)
	mux.HandleFunc("GET /schedule/tasks/{id}", a.handleGetTask)
	mux.HandleFunc("GET /schedule/tasks/{id}/status", a.handleGetTaskStatus)
	mux.HandleFunc("POST /schedule/tasks/{id}/priority", a.handleUpdatePriority)

	mux.HandleFunc("POST /callback/http", a.handleCallbackSink)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// HttpResponse is the uniform JSON envelope of the API.
type HttpResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Body    any    `json:"body"`
}

func writeJSON(w http.ResponseWriter, status int, resp HttpResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func writeOK(w http.ResponseWriter, body any) {
	writeJSON(w, http.StatusOK, HttpResponse{Code: http.StatusOK, Message: "ok", Body: body})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, HttpResponse{Code: status, Message: err.Error()})
}

// writeTaskError maps scheduler errors onto response codes.
func writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, schedule.ErrUnknownKind), errors.Is(err, schedule.ErrNotPending):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func pageFromQuery(r *http.Request) store.Pagination {
	page := store.DefaultPagination()
	if v, err := strconv.Atoi(r.URL.Query().Get("index")); err == nil {
		page.Index = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil {
		page.Size = v
	}
	return page.Check()
}

// handleSubmitTask accepts a raw TaskConfig.
func (a *API) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var cfg store.TaskConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	task, err := a.manager.Submit(r.Context(), cfg)
	if err != nil {
		if errors.Is(err, schedule.ErrUnknownKind) {
			writeError(w, http.StatusBadRequest, err)
		} else if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err)
		} else {
			// validation failures dominate here
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}
	writeOK(w, task)
}

func (a *API) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := a.manager.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeOK(w, task)
}

func (a *API) handleGetTaskStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.manager.TaskStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeOK(w, map[string]store.Status{"status": status})
}

func (a *API) handleUpdatePriority(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Priority store.Priority `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.manager.UpdatePriority(r.Context(), r.PathValue("id"), body.Priority); err != nil {
		writeTaskError(w, err)
		return
	}
	writeOK(w, nil)
}

func (a *API) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.manager.Stats(r.Context(), pageFromQuery(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, counts)
}

// handleCallbackSink is a test endpoint that logs whatever a callback posts
// to it.
func (a *API) handleCallbackSink(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.log.WithField("payload", string(body)).Info("callback received")
	writeOK(w, nil)
}
