package main

import (
	"encoding/json"
	"net/http"

	apperrors "whatslog/internal/errors"
	"whatslog/internal/models"
	"whatslog/internal/validation"
)

type instanceResponse struct {
	User    *models.Account `json:"user,omitempty"`
	Message string          `json:"message,omitempty"`
}

type sendMessageResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// decodeJSON reads a bounded JSON request body into out.
func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}, maxBytes int64) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	if err := decoder.Decode(out); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid JSON body").
			WithUserMessage("Request body must be valid JSON")
	}
	return nil
}

func (s *Server) handleGetInstance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := s.deps.Instances.Get(r.Context(), accountIDFrom(r.Context()))
		if err != nil {
			s.writeError(w, r, err, 0)
			return
		}
		s.writeJSON(w, http.StatusOK, instanceResponse{User: account})
	}
}

func (s *Server) handleCreateInstance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validation.CreateInstanceRequest
		if err := decodeJSON(w, r, &req, s.maxBodyBytes()); err != nil {
			s.writeError(w, r, err, http.StatusBadRequest)
			return
		}
		if err := validation.ValidateCreateInstance(r.Context(), req); err != nil {
			s.writeError(w, r, err, http.StatusBadRequest)
			return
		}

		account, err := s.deps.Instances.Create(r.Context(), accountIDFrom(r.Context()), req.InstanceName)
		if err != nil {
			s.writeError(w, r, err, 0)
			return
		}
		s.writeJSON(w, http.StatusOK, instanceResponse{User: account, Message: "Instance created successfully"})
	}
}

// handleRefreshInstance re-reads the connection state and pairing material
// from the gateway.
func (s *Server) handleRefreshInstance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := s.deps.Instances.Refresh(r.Context(), accountIDFrom(r.Context()))
		if err != nil {
			s.writeError(w, r, err, 0)
			return
		}
		s.writeJSON(w, http.StatusOK, instanceResponse{User: account})
	}
}

func (s *Server) handleDisconnectInstance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.Instances.Disconnect(r.Context(), accountIDFrom(r.Context())); err != nil {
			s.writeError(w, r, err, 0)
			return
		}
		s.writeJSON(w, http.StatusOK, instanceResponse{Message: "Instance disconnected successfully"})
	}
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validation.SendMessageRequest
		if err := decodeJSON(w, r, &req, s.maxBodyBytes()); err != nil {
			s.writeError(w, r, err, http.StatusBadRequest)
			return
		}

		resp, err := s.deps.Instances.SendMessage(r.Context(), accountIDFrom(r.Context()), req)
		if err != nil {
			s.writeError(w, r, err, 0)
			return
		}
		s.writeJSON(w, http.StatusOK, sendMessageResponse{MessageID: resp.ID(), Status: "sent"})
	}
}
