package main

import (
	"errors"
	"io"
	"net/http"
	"time"

	apperrors "whatslog/internal/errors"
	"whatslog/internal/metrics"
	"whatslog/internal/service"
	"whatslog/internal/tracing"
	"whatslog/internal/validation"

	"go.opentelemetry.io/otel/attribute"
)

// handleWebhook accepts Evolution callbacks. Every ingest failure is answered
// with 500 so the gateway retries the delivery.
func (s *Server) handleWebhook() http.HandlerFunc {
	maxBody := s.maxBodyBytes()

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := service.LogWithContext(ctx, s.logger, tracing.RequestID(ctx))

		if !verifyWebhookToken(r, s.config.Webhook.Token, s.config.Webhook.TokenHeader) {
			metrics.IncrementCounter("webhook_rejected_total", map[string]string{"reason": "unauthorized"}, "Rejected webhook callbacks")
			s.writeError(w, r, apperrors.NewAuthError("invalid webhook token"), http.StatusUnauthorized)
			return
		}

		if err := validation.ValidateHTTPRequestSize(r, maxBody); err != nil {
			s.writeError(w, r, err, http.StatusRequestEntityTooLarge)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "request body too large"), http.StatusRequestEntityTooLarge)
				return
			}
			s.writeError(w, r, apperrors.NewMalformedPayloadError(err), http.StatusInternalServerError)
			return
		}

		result, err := s.deps.Ingest.Handle(ctx, body)
		if err != nil {
			tracing.RecordError(ctx, err)
			s.writeError(w, r, err, http.StatusInternalServerError)
			return
		}

		tracing.AddSpanAttributes(ctx,
			attribute.String("webhook.status", string(result.Status)),
			attribute.String("webhook.instance", result.Instance),
		)
		logger.WithField(service.LogFieldStatus, result.Status).Debug("Webhook acknowledged")
		s.writeJSON(w, http.StatusOK, result)
	}
}

type webhookStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// handleWebhookStatus lets operators and the gateway check the callback URL.
func (s *Server) handleWebhookStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, webhookStatus{
			Status:    "online",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}
