package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/blueiewu/iot-honeypot-esp32/pkg/attacklog"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/honeypot"
)

const defaultAttackLimit = 50

// attackView is the export record shape plus optional GeoIP enrichment.
type attackView struct {
	Timestamp   string `json:"timestamp"`
	SourceIP    string `json:"source_ip"`
	TargetPort  uint16 `json:"target_port"`
	Service     string `json:"service"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	UserAgent   string `json:"user_agent"`
	PayloadHash string `json:"payload_hash"`
	Metadata    string `json:"metadata"`
	Country     string `json:"country,omitempty"`
	City        string `json:"city,omitempty"`
}

func (s *Server) viewOf(rec attacklog.Record) attackView {
	view := attackView{
		Timestamp:   time.Unix(rec.Timestamp, 0).UTC().Format(time.RFC3339),
		SourceIP:    rec.SourceIP,
		TargetPort:  rec.TargetPort,
		Service:     string(rec.Service),
		Username:    rec.Username,
		Password:    rec.Password,
		UserAgent:   rec.UserAgent,
		PayloadHash: rec.PayloadHash,
		Metadata:    rec.Metadata,
	}
	if loc, ok := s.resolver.Lookup(rec.SourceIP); ok {
		view.Country = loc.Country
		view.City = loc.City
	}
	return view
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, msg string) {
	s.writeJSON(w, statusCode, map[string]string{"error": msg})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetStats()
	s.writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleAttacks(w http.ResponseWriter, r *http.Request) {
	limit := defaultAttackLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records := s.pipeline.Recent(limit)
	views := make([]attackView, 0, len(records))
	for _, rec := range records {
		views = append(views, s.viewOf(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"total":   s.pipeline.Count(),
		"attacks": views,
	})
}

func (s *Server) handleAttacksClear(w http.ResponseWriter, r *http.Request) {
	cleared := s.pipeline.Count()
	if err := s.pipeline.Clear(); err != nil {
		s.logger.WithError(err).Error("Failed to clear attack store")
		s.writeError(w, http.StatusInternalServerError, "failed to clear attack store")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Config())
}

func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	var config honeypot.Config
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid config body")
		return
	}
	if err := s.engine.SetConfig(config); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("Configuration replaced via API")
	s.writeJSON(w, http.StatusOK, s.engine.Config())
}
