package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/orchestrator"
)

type transitionResponse struct {
	Alert   *alert.Alert `json:"alert"`
	Changed bool         `json:"changed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.ServiceStatus())
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.monitor.GenerateComprehensiveReport()))
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	result := s.monitor.RunCycle(r.Context())
	if result.Rejected() {
		writeError(w, http.StatusConflict, orchestrator.ErrAlreadyRunning)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query(), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.ActiveAlerts(f))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query(), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.AlertHistory(f))
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	action := chi.URLParam(r, "action")

	var (
		a       *alert.Alert
		changed bool
		err     error
	)
	switch action {
	case "acknowledge":
		a, changed, err = s.monitor.Acknowledge(r.Context(), id)
	case "resolve":
		a, changed, err = s.monitor.Resolve(r.Context(), id)
	case "suppress":
		a, changed, err = s.monitor.Suppress(r.Context(), id)
	case "unsuppress":
		a, changed, err = s.monitor.Unsuppress(r.Context(), id)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action %q", action))
		return
	}

	if errors.Is(err, orchestrator.ErrAlertNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Alert: a, Changed: changed})
}

func parseFilter(q url.Values, withTime bool) (orchestrator.Filter, error) {
	var f orchestrator.Filter
	if v := q.Get("severity"); v != "" {
		sev, err := alert.ParseSeverity(v)
		if err != nil {
			return f, err
		}
		f.Severity = sev
	}
	if v := q.Get("type"); v != "" {
		typ, err := alert.ParseType(v)
		if err != nil {
			return f, err
		}
		f.Type = typ
	}
	if !withTime {
		return f, nil
	}
	for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("%s must be RFC3339: %w", key, err)
		}
		*dst = t
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, errors.New("to must not be before from")
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
