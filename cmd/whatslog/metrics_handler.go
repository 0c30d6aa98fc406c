package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"whatslog/internal/metrics"
	"whatslog/internal/tracing"

	"github.com/sirupsen/logrus"
)

// wantsTextMetrics reports whether the caller asked for the Prometheus text
// format, either with ?format=prometheus or an Accept of text/plain.
func wantsTextMetrics(r *http.Request) bool {
	if r.URL.Query().Get("format") == "prometheus" {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/plain") && !strings.Contains(accept, "application/json")
}

// handleMetrics serves the in-process registry as JSON or Prometheus text.
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := tracing.ScopeFrom(r.Context())
		snapshot := metrics.GetAllMetrics()

		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		var err error
		format := "json"
		if wantsTextMetrics(r) {
			format = "prometheus"
			w.Header().Set("Content-Type", metrics.TextContentType)
			err = snapshot.WriteText(w)
		} else {
			w.Header().Set("Content-Type", "application/json")
			encoder := json.NewEncoder(w)
			encoder.SetIndent("", "  ")
			err = encoder.Encode(snapshot)
		}

		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"request_id": scope.RequestID,
				"trace_id":   scope.TraceID,
				"format":     format,
				"error":      err,
			}).Error("Failed to write metrics response")
			return
		}

		s.logger.WithFields(logrus.Fields{
			"request_id": scope.RequestID,
			"format":     format,
			"counters":   len(snapshot.Counters),
			"timers":     len(snapshot.Timers),
		}).Debug("Metrics endpoint served")
	}
}
