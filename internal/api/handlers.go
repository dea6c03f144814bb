package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/fedisync/internal/notify"
	"github.com/JakeFAU/fedisync/internal/publisher/memory"
	"github.com/JakeFAU/fedisync/internal/settings"
	"github.com/JakeFAU/fedisync/internal/status"
)

const (
	defaultNotificationLimit = 100
	maxNotificationLimit     = 1000
)

type statusResponse struct {
	Round status.Round  `json:"round"`
	Scans []status.Scan `json:"scans"`
}

// getStatus handles GET /v1/status.
func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Round: s.status.Round(), Scans: s.status.Scans()})
}

// stopRound handles POST /v1/round/stop. During a round it stops
// dispatching; during a cooldown it starts the next round early.
func (s *Server) stopRound(w http.ResponseWriter, _ *http.Request) {
	s.status.StopRound()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// stopCommunity handles POST /v1/communities/stop?origin=. It returns 404
// when the community is not being processed.
func (s *Server) stopCommunity(w http.ResponseWriter, r *http.Request) {
	origin := strings.TrimSpace(r.URL.Query().Get("origin"))
	if origin == "" {
		writeError(w, http.StatusBadRequest, "origin is required")
		return
	}
	if !s.status.StopScan(origin) {
		writeError(w, http.StatusNotFound, "community is not being processed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping", "origin": origin})
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) getEnabled(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]bool{
		"enabled": settings.Bool(ctx, s.settings, settings.SyncEnabled, true),
	})
}

// putEnabled handles PUT /v1/enabled with body {"enabled": bool}. The flag
// is read at the start of each round; a running round is not interrupted.
func (s *Server) putEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "missing enabled flag")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if err := s.settings.Set(ctx, settings.SyncEnabled, strconv.FormatBool(*req.Enabled)); err != nil {
		s.logger.Error("set enabled flag failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store setting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

func (s *Server) listSettings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	all, err := s.settings.All(ctx)
	if err != nil {
		s.logger.Error("list settings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings.Masked(all)})
}

type settingRequest struct {
	Value *string `json:"value"`
}

func (s *Server) putSetting(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req settingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, "missing value")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if err := s.settings.Set(ctx, name, *req.Value); err != nil {
		s.logger.Error("set setting failed", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store setting")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listNotifications handles GET /v1/notifications?limit=&offset=, newest
// first.
func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultNotificationLimit, maxNotificationLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	all := s.notifications.List(r.Context())
	page := []notify.Notification{}
	if offset < len(all) {
		end := min(offset+limit, len(all))
		page = all[offset:end]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": page,
		"total":         len(all),
	})
}

// listEvents handles GET /v1/events?limit=&offset=, newest first.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultNotificationLimit, maxNotificationLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	all := s.events.Recent()
	page := []memory.PublishedMessage{}
	if offset < len(all) {
		page = all[offset:min(offset+limit, len(all))]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": page,
		"total":  len(all),
	})
}

func (s *Server) deleteNotifications(w http.ResponseWriter, r *http.Request) {
	s.notifications.DeleteAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// deleteNotification handles DELETE /v1/notifications/{id}?external=. Entries
// listed from the push service have id 0 and are deleted with
// /v1/notifications/0?external=<external_id>. Unknown ids are ignored.
func (s *Server) deleteNotification(w http.ResponseWriter, r *http.Request) {
	localID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var externalID int64
	if raw := r.URL.Query().Get("external"); raw != "" {
		if externalID, err = parseID(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid external id")
			return
		}
	}
	s.notifications.Delete(r.Context(), localID, externalID)
	w.WriteHeader(http.StatusNoContent)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
