package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache-agent/internal/agent"
	"github.com/iTrooz/offline-cache-agent/internal/cache"
)

type statusResponse struct {
	agent.Status
	Generation string `json:"generation"`
	Origin     string `json:"origin"`
}

type cacheResponse struct {
	Name string   `json:"name"`
	Keys []string `json:"keys"`
}

type updateRequest struct {
	Generation string `json:"generation"`
}

// AdminHandler returns the admin API router. Event routes need an active
// generation.
func (s *Server) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", s.getStatus)
	r.Get("/caches", s.listCaches)
	r.Get("/caches/{name}", s.getCache)
	r.Post("/update", s.update)
	r.Post("/skip-waiting", s.skipWaiting)
	r.Post("/push", s.push)
	r.Post("/sync", s.sync)
	r.Get("/notifications", s.listNotifications)
	r.Post("/notifications/{id}/click", s.clickNotification)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     s.registration.Status(),
		Generation: s.generation(),
		Origin:     s.origin.String(),
	})
}

func (s *Server) listCaches(w http.ResponseWriter, r *http.Request) {
	names, err := s.storage.Keys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) getCache(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	store, ok, err := s.storage.Lookup(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, cache.ErrNotFound.Error())
		return
	}
	keys, err := store.Keys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cacheResponse{Name: name, Keys: keys})
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	var body updateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.Update(r.Context(), body.Generation); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.registration.Status())
}

func (s *Server) skipWaiting(w http.ResponseWriter, r *http.Request) {
	if err := s.registration.Promote(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.registration.Status())
}

func (s *Server) push(w http.ResponseWriter, r *http.Request) {
	active := s.registration.Active()
	if active == nil {
		writeError(w, http.StatusServiceUnavailable, "no active generation")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var data []byte
	if len(body) > 0 {
		data = body
	}

	if err := active.Push(agent.PushEvent{Data: data}).Settle(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.notifier.List())
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	active := s.registration.Active()
	if active == nil {
		writeError(w, http.StatusServiceUnavailable, "no active generation")
		return
	}

	tag := r.URL.Query().Get("tag")
	if tag == "" {
		tag = agent.SyncTagBackgroundProcess
	}
	if err := active.Sync(agent.SyncEvent{Tag: tag}).Settle(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listNotifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.notifier.List())
}

func (s *Server) clickNotification(w http.ResponseWriter, r *http.Request) {
	active := s.registration.Active()
	if active == nil {
		writeError(w, http.StatusServiceUnavailable, "no active generation")
		return
	}

	notification, ok := s.notifier.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}

	eff := active.NotificationClick(agent.NotificationClickEvent{
		Notification: notification,
		Action:       r.URL.Query().Get("action"),
	})
	if err := eff.Settle(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.registration.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Debugf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
